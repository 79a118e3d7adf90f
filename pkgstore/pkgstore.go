// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pkgstore owns the on-disk PKG tree: enumeration, canonical
// placement under the per-type directories and quarantine of rejects.
package pkgstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hb-store/homebrew-cdn/catalog"
)

// MediaDirName is the subdirectory holding extracted icon/pic assets.
// It is excluded from PKG enumeration.
const MediaDirName = "_media"

// ErrConflict is returned by MoveToCanonical when the canonical target
// already exists and is a different file than the source.
var ErrConflict = errors.New("canonical target already exists")

var dirByAppType = map[catalog.AppType]string{
	catalog.AppTypeApp:     "app",
	catalog.AppTypeGame:    "game",
	catalog.AppTypeDLC:     "dlc",
	catalog.AppTypeUpdate:  "update",
	catalog.AppTypeSave:    "save",
	catalog.AppTypeUnknown: "_unknown",
}

// Store manages one PKG tree rooted at a share/pkg directory, with a
// separate quarantine directory for rejected candidates.
type Store struct {
	pkgRoot   string
	errorsDir string
}

// New creates a store for the given PKG root and quarantine directory.
// Both paths are expected to be absolute.
func New(pkgRoot, errorsDir string) *Store {
	return &Store{pkgRoot: filepath.Clean(pkgRoot), errorsDir: filepath.Clean(errorsDir)}
}

// PkgRoot returns the root of the managed PKG tree.
func (s *Store) PkgRoot() string { return s.pkgRoot }

// MediaDir returns the directory for extracted icon/pic assets.
func (s *Store) MediaDir() string { return filepath.Join(s.pkgRoot, MediaDirName) }

// DirFor returns the canonical directory bound to an app type.
func (s *Store) DirFor(appType catalog.AppType) string {
	name, ok := dirByAppType[appType]
	if !ok {
		name = dirByAppType[catalog.AppTypeUnknown]
	}
	return filepath.Join(s.pkgRoot, name)
}

// EnsureLayout creates the per-type directories, the media directory and
// the quarantine directory. Idempotent.
func (s *Store) EnsureLayout() error {
	dirs := []string{s.pkgRoot, s.MediaDir(), s.errorsDir}
	for _, name := range dirByAppType {
		dirs = append(dirs, filepath.Join(s.pkgRoot, name))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Scan walks the PKG root and returns the absolute paths of all files
// whose name ends in .pkg (case-insensitive), excluding the media
// directory. The result is sorted so diffs stay stable across runs.
func (s *Store) Scan() ([]string, error) {
	mediaDir := s.MediaDir()
	var paths []string
	err := filepath.WalkDir(s.pkgRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Subtrees that vanish mid-walk are picked up next cycle.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path == mediaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".pkg") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.pkgRoot, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Stat returns the size and mtime (ns) of a file, failing if it is gone.
func (s *Store) Stat(path string) (size int64, mtimeNS int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return info.Size(), info.ModTime().UnixNano(), nil
}

// CanonicalPath returns where a package with the given identity belongs.
func (s *Store) CanonicalPath(appType catalog.AppType, contentID catalog.ContentID) string {
	return filepath.Join(s.DirFor(appType), contentID.String()+".pkg")
}

// MoveToCanonical renames a PKG to <content_id>.pkg inside the directory
// bound to its app type. Returns the target path. If the target already
// exists and is not the source itself, the move fails with ErrConflict.
func (s *Store) MoveToCanonical(source string, appType catalog.AppType, contentID catalog.ContentID) (string, error) {
	target := s.CanonicalPath(appType, contentID)
	if filepath.Clean(source) == target {
		return target, nil
	}
	if _, err := os.Lstat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrConflict, target)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat canonical target %s: %w", target, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create canonical dir: %w", err)
	}
	if err := os.Rename(source, target); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", source, target, err)
	}
	return target, nil
}

// Quarantine moves a rejected candidate into the errors directory under
// <stem>.<reason>.<rand>.pkg. The reason is sanitized to [a-z0-9_]+ and
// the random suffix guarantees quarantined files are never overwritten.
func (s *Store) Quarantine(source, reason string) (string, error) {
	if err := os.MkdirAll(s.errorsDir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	reason = sanitizeReason(reason)

	for {
		name := fmt.Sprintf("%s.%s.%s.pkg", stem, reason, randomSuffix())
		target := filepath.Join(s.errorsDir, name)
		if _, err := os.Lstat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat quarantine target %s: %w", target, err)
		}
		if err := os.Rename(source, target); err != nil {
			return "", fmt.Errorf("quarantine %s: %w", source, err)
		}
		return target, nil
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sanitizeReason(reason string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(reason) {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "error"
	}
	return out
}
