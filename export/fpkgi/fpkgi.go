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

// Package fpkgi publishes the catalog as the partitioned JSON files the
// FPKGi client consumes, one file per content shelf.
package fpkgi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/export"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// Stems is the closed set of output files, one JSON per shelf. Shelves
// with no app type mapped to them always publish an empty payload.
var Stems = []string{
	"APPS", "DEMOS", "DLC", "EMULATORS", "GAMES", "HOMEBREW",
	"PS1", "PS2", "PS5", "PSP", "SAVES", "THEMES", "UNKNOWN", "UPDATES",
}

var stemByAppType = map[catalog.AppType]string{
	catalog.AppTypeApp:     "APPS",
	catalog.AppTypeDLC:     "DLC",
	catalog.AppTypeGame:    "GAMES",
	catalog.AppTypeSave:    "SAVES",
	catalog.AppTypeUpdate:  "UPDATES",
	catalog.AppTypeUnknown: "UNKNOWN",
}

var (
	dottedVersionRE = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?$`)
	hexVersionRE    = regexp.MustCompile(`^[0-9A-Fa-f]{8}$`)
	releaseRE       = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// entry is one package as FPKGi renders it. Maps keep the output keys
// sorted at every nesting level.
type entry = map[string]string

// Exporter writes the FPKGi JSON file set.
type Exporter struct {
	outputDir string
	baseURL   string
}

// New creates the FPKGi exporter writing into outputDir.
func New(outputDir, baseURL string) *Exporter {
	return &Exporter{
		outputDir: filepath.Clean(outputDir),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// Target implements export.Exporter.
func (e *Exporter) Target() string { return export.TargetFPKGi }

// ManagedFiles lists every stem's JSON file.
func (e *Exporter) ManagedFiles() []string {
	files := make([]string, 0, len(Stems))
	for _, stem := range Stems {
		files = append(files, filepath.Join(e.outputDir, stem+".json"))
	}
	return files
}

// Export writes all 14 shelf files, each replaced atomically, then
// removes any managed file it did not produce this cycle.
func (e *Exporter) Export(ctx context.Context, items []*catalog.Item) ([]string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("fpkgi output dir: %w", err)
	}

	grouped := map[string]map[string]entry{}
	for _, stem := range Stems {
		grouped[stem] = map[string]entry{}
	}
	for _, item := range items {
		stem, ok := stemByAppType[item.AppType]
		if !ok {
			stem = "UNKNOWN"
		}
		grouped[stem][export.PackageURL(e.baseURL, item)] = e.entryFor(item)
	}

	var exported []string
	var errs error
	produced := map[string]bool{}
	for _, stem := range Stems {
		if err := ctx.Err(); err != nil {
			return exported, multierr.Append(errs, err)
		}
		path := filepath.Join(e.outputDir, stem+".json")
		if err := writeJSON(path, grouped[stem]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		exported = append(exported, path)
		produced[path] = true
	}

	for _, managed := range e.ManagedFiles() {
		if produced[managed] {
			continue
		}
		if err := os.Remove(managed); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("remove stale %s: %w", managed, err))
		}
	}
	return exported, errs
}

// Cleanup removes every managed file that exists.
func (e *Exporter) Cleanup() ([]string, error) {
	var removed []string
	for _, path := range e.ManagedFiles() {
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

func (e *Exporter) entryFor(item *catalog.Item) entry {
	return entry{
		"title_id":  item.TitleID,
		"region":    item.ContentID.Region(),
		"name":      item.Title,
		"version":   item.Version,
		"release":   ReformatRelease(item.ReleaseDate),
		"size":      FormatSize(item.PkgSize),
		"min_fw":    DecodeMinFW(item.SystemVer),
		"cover_url": export.CoverURL(e.baseURL, item),
	}
}

func writeJSON(path string, data map[string]entry) error {
	payload, err := catalog.MarshalCanonicalIndent(map[string]map[string]entry{"DATA": data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReformatRelease turns a YYYY-MM-DD date into the MM-DD-YYYY form FPKGi
// displays. Anything that doesn't parse renders blank.
func ReformatRelease(release string) string {
	m := releaseRE.FindStringSubmatch(release)
	if m == nil {
		return ""
	}
	return m[2] + "-" + m[3] + "-" + m[1]
}

// FormatSize renders a byte count the way FPKGi shows it: plain bytes
// below 1 MiB, then two-decimal MB and GB.
func FormatSize(size int64) string {
	switch {
	case size < bytesPerMB:
		return fmt.Sprintf("%d B", size)
	case size < bytesPerGB:
		return fmt.Sprintf("%.2f MB", float64(size)/bytesPerMB)
	default:
		return fmt.Sprintf("%.2f GB", float64(size)/bytesPerGB)
	}
}

// DecodeMinFW normalizes a PARAM.SFO SYSTEM_VER value into the dotted
// firmware version FPKGi expects. Dotted values pass through; 8-hex-digit
// values (with or without 0x) decode pairwise; longer all-digit values
// are re-read as a decimal word and decoded the same way. Anything else
// passes through unchanged.
func DecodeMinFW(systemVer string) string {
	raw := strings.TrimSpace(systemVer)
	if raw == "" {
		return ""
	}
	if dottedVersionRE.MatchString(raw) {
		return raw
	}

	hexValue := raw
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		hexValue = raw[2:]
	}
	if hexVersionRE.MatchString(hexValue) {
		return decodeVersionHex(hexValue)
	}

	if isDigits(raw) && len(raw) > 8 {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return raw
		}
		word := fmt.Sprintf("%08X", n)
		return decodeVersionHex(word[len(word)-8:])
	}
	return raw
}

// decodeVersionHex reads the first three bytes of an 8-hex-digit version
// word as major, minor, patch. Each byte reads as two decimal digits
// when both nibbles are ≤ 9, as hex otherwise.
func decodeVersionHex(hexValue string) string {
	major := byteToDecimal(hexValue[0:2])
	minor := byteToDecimal(hexValue[2:4])
	patch := byteToDecimal(hexValue[4:6])
	if patch != 0 {
		return fmt.Sprintf("%d.%02d.%02d", major, minor, patch)
	}
	return fmt.Sprintf("%d.%02d", major, minor)
}

func byteToDecimal(pair string) int {
	high := hexNibble(pair[0])
	low := hexNibble(pair[1])
	if high <= 9 && low <= 9 {
		return high*10 + low
	}
	return high*16 + low
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
