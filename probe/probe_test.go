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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseEntryListing(t *testing.T) {
	output := `Offset   Size     Flags    Index  Key    Name
0x2000   0x400    0x0      1      0x4    PARAM.SFO
0x2400   0x8000   0x0      2      0x4    ICON0.PNG
0xa400   0x100    0x0      3      0x4    PIC0.PNG
garbage line
`
	want := map[string]string{
		"param_sfo": "1",
		"icon0_png": "2",
		"pic0_png":  "3",
	}
	got := ParseEntryListing(output)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseEntryListing returned unexpected diff (-want +got):\n%s", diff)
	}
}

func TestParseEntryListingShortLines(t *testing.T) {
	output := `Offset   Size     Flags    Index  NAME.BIN
0x2000   0x400    0x0      7      NAME.BIN
`
	got := ParseEntryListing(output)
	if got["name_bin"] != "7" {
		t.Errorf("ParseEntryListing 5-field line = %v, want name_bin -> 7", got)
	}
}

func TestParseSFOOutput(t *testing.T) {
	output := `CONTENT_ID : utf8 = UP0000-TEST00000_00-TEST000000000001
TITLE : utf8 = My Test
TITLE_ID : utf8 = CUSA00001
CATEGORY : utf8 = GD
APP_VER : utf8 = 01.00
SYSTEM_VER : integer = 0x05050000
not a field line
ANOTHER = missing type marker
`
	want := map[string]string{
		"CONTENT_ID": "UP0000-TEST00000_00-TEST000000000001",
		"TITLE":      "My Test",
		"TITLE_ID":   "CUSA00001",
		"CATEGORY":   "GD",
		"APP_VER":    "01.00",
		"SYSTEM_VER": "0x05050000",
	}
	got := ParseSFOOutput(output)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSFOOutput returned unexpected diff (-want +got):\n%s", diff)
	}
}

func TestErrorKindQuarantineReason(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{kind: KindProbeFailed, want: "probe_failed"},
		{kind: KindSFOMissing, want: "sfo_missing"},
		{kind: KindInvalidMetadata, want: "invalid_metadata"},
		{kind: KindTimeout, want: "probe_timeout"},
	}
	for _, tc := range tests {
		if got := tc.kind.QuarantineReason(); got != tc.want {
			t.Errorf("QuarantineReason(%d) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", &Error{Kind: KindTimeout, Path: "/a.pkg", Err: errors.New("slow")})
	if got := KindOf(err); got != KindTimeout {
		t.Errorf("KindOf(wrapped timeout) = %d, want KindTimeout", got)
	}
	if got := KindOf(errors.New("plain")); got != KindProbeFailed {
		t.Errorf("KindOf(plain error) = %d, want KindProbeFailed", got)
	}
}

// stubTool writes a shell script standing in for pkgtool.
func stubTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pkgtool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	return path
}

const happyScript = `case "$1" in
pkg_listentries)
  printf 'Offset Size Flags Index Key Name\n'
  printf '0x2000 0x400 0x0 1 0x4 PARAM.SFO\n'
  printf '0x2400 0x8000 0x0 2 0x4 ICON0.PNG\n'
  ;;
pkg_extractentry)
  printf 'stub-data' > "$4"
  ;;
sfo_listentries)
  printf 'CONTENT_ID : utf8 = UP0000-TEST00000_00-TEST000000000001\n'
  printf 'TITLE : utf8 = My Test\n'
  printf 'CATEGORY : utf8 = GD\n'
  ;;
esac
`

func TestPkgToolProbe(t *testing.T) {
	mediaDir := t.TempDir()
	tool := NewPkgTool(stubTool(t, happyScript), mediaDir, 30*time.Second)

	result, err := tool.Probe(context.Background(), "/fake/incoming.pkg")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got, want := result.ContentID.String(), "UP0000-TEST00000_00-TEST000000000001"; got != want {
		t.Errorf("ContentID = %q, want %q", got, want)
	}
	if result.SFO.Fields["TITLE"] != "My Test" {
		t.Errorf("SFO TITLE = %q, want %q", result.SFO.Fields["TITLE"], "My Test")
	}
	if result.SFO.Hash == "" {
		t.Error("SFO hash empty")
	}
	wantIcon := filepath.Join(mediaDir, "UP0000-TEST00000_00-TEST000000000001_icon0.png")
	if result.Icon0Path != wantIcon {
		t.Errorf("Icon0Path = %q, want %q", result.Icon0Path, wantIcon)
	}
	if _, err := os.Stat(wantIcon); err != nil {
		t.Errorf("icon file not extracted: %v", err)
	}
	if result.Pic0Path != "" {
		t.Errorf("Pic0Path = %q, want empty for a PKG without PIC0", result.Pic0Path)
	}
}

func TestPkgToolProbeSFOMissing(t *testing.T) {
	script := `case "$1" in
pkg_listentries)
  printf 'Offset Size Flags Index Key Name\n'
  printf '0x2400 0x8000 0x0 2 0x4 ICON0.PNG\n'
  ;;
esac
`
	tool := NewPkgTool(stubTool(t, script), t.TempDir(), 30*time.Second)
	_, err := tool.Probe(context.Background(), "/fake/a.pkg")
	if KindOf(err) != KindSFOMissing {
		t.Errorf("Probe without PARAM.SFO: kind = %d (err: %v), want KindSFOMissing", KindOf(err), err)
	}
}

func TestPkgToolProbeInvalidContentID(t *testing.T) {
	script := `case "$1" in
pkg_listentries)
  printf 'Offset Size Flags Index Key Name\n'
  printf '0x2000 0x400 0x0 1 0x4 PARAM.SFO\n'
  ;;
pkg_extractentry)
  printf 'stub-data' > "$4"
  ;;
sfo_listentries)
  printf 'TITLE : utf8 = No Content ID\n'
  ;;
esac
`
	tool := NewPkgTool(stubTool(t, script), t.TempDir(), 30*time.Second)
	_, err := tool.Probe(context.Background(), "/fake/a.pkg")
	if KindOf(err) != KindInvalidMetadata {
		t.Errorf("Probe without CONTENT_ID: kind = %d (err: %v), want KindInvalidMetadata", KindOf(err), err)
	}
}

func TestPkgToolProbeToolFailure(t *testing.T) {
	tool := NewPkgTool(stubTool(t, "exit 3\n"), t.TempDir(), 30*time.Second)
	_, err := tool.Probe(context.Background(), "/fake/a.pkg")
	if KindOf(err) != KindProbeFailed {
		t.Errorf("Probe with failing tool: kind = %d (err: %v), want KindProbeFailed", KindOf(err), err)
	}
}

func TestPkgToolProbeTimeout(t *testing.T) {
	tool := NewPkgTool(stubTool(t, "sleep 5\n"), t.TempDir(), 50*time.Millisecond)
	_, err := tool.Probe(context.Background(), "/fake/a.pkg")
	if KindOf(err) != KindTimeout {
		t.Errorf("Probe with hanging tool: kind = %d (err: %v), want KindTimeout", KindOf(err), err)
	}
}
