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

// Package snapshot persists the {path: (size, mtime_ns)} view of the PKG
// tree between reconcile cycles and diffs consecutive views.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"bitbucket.org/creachadair/stringset"
	"github.com/tidwall/gjson"
)

// Entry is the stat result recorded for one PKG file.
type Entry struct {
	Size    int64
	MtimeNS int64
}

// Snapshot maps absolute PKG paths to their recorded stat entries.
type Snapshot map[string]Entry

// Delta is the difference between two snapshots, each slice sorted.
type Delta struct {
	Added   []string
	Updated []string
	Removed []string
}

// Diff compares two snapshots by key and by entry value.
func Diff(previous, current Snapshot) Delta {
	prevKeys := stringset.FromKeys(previous)
	curKeys := stringset.FromKeys(current)

	added := curKeys.Diff(prevKeys).Elements()
	removed := prevKeys.Diff(curKeys).Elements()

	var updated []string
	for path := range curKeys.Intersect(prevKeys) {
		if previous[path] != current[path] {
			updated = append(updated, path)
		}
	}
	sort.Strings(updated)

	return Delta{Added: added, Updated: updated, Removed: removed}
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
}

// NewStore creates a store persisting to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted snapshot. A missing file yields an empty
// snapshot. Entries that aren't a 2-element array of numbers are dropped.
func (s *Store) Load() Snapshot {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}
	}

	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return Snapshot{}
	}

	snapshot := Snapshot{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		meta := value.Array()
		if len(meta) != 2 || meta[0].Type != gjson.Number || meta[1].Type != gjson.Number {
			return true
		}
		snapshot[key.String()] = Entry{Size: meta[0].Int(), MtimeNS: meta[1].Int()}
		return true
	})
	return snapshot
}

// Save serializes the snapshot as JSON (sorted keys, [size, mtime_ns]
// values, trailing newline) and replaces the target atomically through a
// sibling temp file.
func (s *Store) Save(snapshot Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	serializable := make(map[string][2]int64, len(snapshot))
	for path, entry := range snapshot {
		serializable[path] = [2]int64{entry.Size, entry.MtimeNS}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(serializable); err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("snapshot rename %s: %w", tmp, err)
	}
	return nil
}
