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

package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/log"
)

// pkgtool subcommands.
const (
	cmdListEntries    = "pkg_listentries"
	cmdExtractEntry   = "pkg_extractentry"
	cmdListSFOEntries = "sfo_listentries"
)

// The tool embeds .NET; invariant globalization keeps it runnable without
// ICU on the host.
const dotnetGlobalizationEnv = "DOTNET_SYSTEM_GLOBALIZATION_INVARIANT=1"

// mediaEntry binds a PKG entry name to the media file suffix it is
// published under.
type mediaEntry struct {
	entryName string
	suffix    string
}

var mediaEntries = []mediaEntry{
	{entryName: "icon0_png", suffix: "icon0"},
	{entryName: "pic0_png", suffix: "pic0"},
	{entryName: "pic1_png", suffix: "pic1"},
}

// PkgTool probes PKG files by shelling out to the pkgtool binary.
type PkgTool struct {
	binPath  string
	mediaDir string
	timeout  time.Duration
}

// NewPkgTool creates a prober for the given tool binary, writing media
// assets into mediaDir. The timeout bounds each probe end to end.
func NewPkgTool(binPath, mediaDir string, timeout time.Duration) *PkgTool {
	return &PkgTool{binPath: binPath, mediaDir: mediaDir, timeout: timeout}
}

// Probe extracts the PARAM.SFO snapshot and media assets of one PKG.
func (p *PkgTool) Probe(ctx context.Context, pkgPath string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entries, err := p.listEntries(ctx, pkgPath)
	if err != nil {
		return nil, p.wrap(ctx, pkgPath, err)
	}

	sfoIndex, ok := findSFOEntry(entries)
	if !ok {
		return nil, &Error{Kind: KindSFOMissing, Path: pkgPath, Err: fmt.Errorf("no PARAM.SFO entry in PKG")}
	}

	tmpDir, err := os.MkdirTemp("", "pkg-probe-")
	if err != nil {
		return nil, &Error{Kind: KindProbeFailed, Path: pkgPath, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	sfoPath := filepath.Join(tmpDir, "param.sfo")
	if _, err := p.run(ctx, cmdExtractEntry, pkgPath, sfoIndex, sfoPath); err != nil {
		return nil, p.wrap(ctx, pkgPath, err)
	}
	raw, err := os.ReadFile(sfoPath)
	if err != nil {
		return nil, &Error{Kind: KindProbeFailed, Path: pkgPath, Err: err}
	}

	listing, err := p.run(ctx, cmdListSFOEntries, sfoPath)
	if err != nil {
		return nil, p.wrap(ctx, pkgPath, err)
	}
	fields := ParseSFOOutput(listing)

	contentID, err := catalog.ParseContentID(fields["CONTENT_ID"])
	if err != nil {
		return nil, &Error{Kind: KindInvalidMetadata, Path: pkgPath, Err: err}
	}

	result := &Result{
		ContentID: contentID,
		SFO:       catalog.NewSFOSnapshot(fields, raw),
	}
	p.extractMedia(ctx, pkgPath, entries, contentID, result)
	return result, nil
}

// extractMedia pulls the known image entries into the media directory.
// Media failures don't fail the probe; the catalog row just goes out
// without the asset.
func (p *PkgTool) extractMedia(ctx context.Context, pkgPath string, entries map[string]string, contentID catalog.ContentID, result *Result) {
	if err := os.MkdirAll(p.mediaDir, 0o755); err != nil {
		log.Warnf("Can't create media dir %s: %v", p.mediaDir, err)
		return
	}
	for _, media := range mediaEntries {
		index, ok := entries[media.entryName]
		if !ok {
			continue
		}
		target := filepath.Join(p.mediaDir, fmt.Sprintf("%s_%s.png", contentID, media.suffix))
		if _, err := p.run(ctx, cmdExtractEntry, pkgPath, index, target); err != nil {
			log.Warnf("Can't extract %s from %s: %v", media.entryName, pkgPath, err)
			continue
		}
		switch media.suffix {
		case "icon0":
			result.Icon0Path = target
		case "pic0":
			result.Pic0Path = target
		case "pic1":
			result.Pic1Path = target
		}
	}
}

func (p *PkgTool) listEntries(ctx context.Context, pkgPath string) (map[string]string, error) {
	output, err := p.run(ctx, cmdListEntries, pkgPath)
	if err != nil {
		return nil, err
	}
	return ParseEntryListing(output), nil
}

func (p *PkgTool) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, args...)
	cmd.Env = append(os.Environ(), dotnetGlobalizationEnv)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("pkgtool %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// wrap classifies a tool error, distinguishing deadline hits from plain
// failures.
func (p *PkgTool) wrap(ctx context.Context, pkgPath string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Path: pkgPath, Err: err}
	}
	return &Error{Kind: KindProbeFailed, Path: pkgPath, Err: err}
}

// ParseEntryListing parses the pkg_listentries output into a map of
// normalized entry name to entry index. Lines look like:
//
//	Offset   Size     Flags    Index  Name
//	0x2000   0x400    0x0      1      PARAM.SFO
func ParseEntryListing(output string) map[string]string {
	entries := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Offset") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		index := parts[3]
		name := parts[4]
		if len(parts) >= 6 {
			name = parts[5]
		}
		entries[normalizeEntryName(name)] = index
	}
	return entries
}

func normalizeEntryName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), ".", "_")
}

func findSFOEntry(entries map[string]string) (string, bool) {
	for name, index := range entries {
		if strings.Contains(name, "param_sfo") {
			return index, true
		}
	}
	return "", false
}

// ParseSFOOutput parses sfo_listentries output into a field map. Lines
// look like:
//
//	CONTENT_ID : utf8 = UP0000-TEST00000_00-TEST000000000001
func ParseSFOOutput(output string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, " = ") || !strings.Contains(line, " : ") {
			continue
		}
		left, value, _ := strings.Cut(line, " = ")
		name, _, _ := strings.Cut(left, " : ")
		fields[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return fields
}
