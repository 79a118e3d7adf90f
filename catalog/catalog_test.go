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

package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hb-store/homebrew-cdn/catalog"
)

func TestParseContentID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid_usa", input: "UP0000-TEST00000_00-TEST000000000001"},
		{name: "valid_eur", input: "EP9000-CUSA12345_00-0000000000000000"},
		{name: "padded", input: " UP0000-TEST00000_00-TEST000000000001 "},
		{name: "empty", input: "", wantErr: true},
		{name: "missing_suffix", input: "UP0000-TEST00000_00", wantErr: true},
		{name: "short_last_segment", input: "UP0000-TEST00000_00-TEST01", wantErr: true},
		{name: "lowercase_region", input: "up0000-TEST00000_00-TEST000000000001", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := catalog.ParseContentID(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseContentID(%q): want error, got %q", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContentID(%q): %v", tc.input, err)
			}
		})
	}
}

func TestRegion(t *testing.T) {
	tests := []struct {
		id   catalog.ContentID
		want string
	}{
		{id: "UP0000-TEST00000_00-TEST000000000001", want: catalog.RegionUSA},
		{id: "EP0000-TEST00000_00-TEST000000000001", want: catalog.RegionEUR},
		{id: "JP0000-TEST00000_00-TEST000000000001", want: catalog.RegionJAP},
		{id: "HP0000-TEST00000_00-TEST000000000001", want: catalog.RegionAsia},
		{id: "AP0000-TEST00000_00-TEST000000000001", want: catalog.RegionAsia},
		{id: "KP0000-TEST00000_00-TEST000000000001", want: catalog.RegionAsia},
		{id: "XX0000-TEST00000_00-TEST000000000001", want: catalog.RegionUnknown},
		{id: "U", want: catalog.RegionUnknown},
	}
	for _, tc := range tests {
		if got := tc.id.Region(); got != tc.want {
			t.Errorf("Region(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestAppTypeForCategory(t *testing.T) {
	tests := []struct {
		category string
		want     catalog.AppType
	}{
		{category: "GD", want: catalog.AppTypeGame},
		{category: "GC", want: catalog.AppTypeGame},
		{category: "GP", want: catalog.AppTypeUpdate},
		{category: "AC", want: catalog.AppTypeDLC},
		{category: "SD", want: catalog.AppTypeSave},
		{category: "AD", want: catalog.AppTypeApp},
		{category: "AL", want: catalog.AppTypeApp},
		{category: "AP", want: catalog.AppTypeApp},
		{category: "BD", want: catalog.AppTypeApp},
		{category: "DD", want: catalog.AppTypeApp},
		{category: "gd", want: catalog.AppTypeGame},
		{category: "ZZ", want: catalog.AppTypeUnknown},
		{category: "", want: catalog.AppTypeUnknown},
	}
	for _, tc := range tests {
		if got := catalog.AppTypeForCategory(tc.category); got != tc.want {
			t.Errorf("AppTypeForCategory(%q) = %q, want %q", tc.category, got, tc.want)
		}
	}
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "sorted_keys_compact",
			input: map[string]any{"b": 2, "a": "x"},
			want:  `{"a":"x","b":2}`,
		},
		{
			name:  "non_ascii_escaped",
			input: map[string]string{"title": "Côte"},
			want:  "{\"title\":\"C\\u00f4te\"}",
		},
		{
			name:  "astral_plane_surrogate_pair",
			input: map[string]string{"t": "\U0001F3AE"},
			want:  "{\"t\":\"\\ud83c\\udfae\"}",
		},
		{
			name:  "html_chars_unescaped",
			input: map[string]string{"u": "a<b&c>d"},
			want:  `{"u":"a<b&c>d"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := catalog.MarshalCanonical(tc.input)
			if err != nil {
				t.Fatalf("MarshalCanonical(%v): %v", tc.input, err)
			}
			if diff := cmp.Diff(tc.want, string(got)); diff != "" {
				t.Errorf("MarshalCanonical(%v) returned unexpected diff (-want +got):\n%s", tc.input, diff)
			}
		})
	}
}

func testItem() *catalog.Item {
	return &catalog.Item{
		ContentID:      "UP0000-TEST00000_00-TEST000000000001",
		TitleID:        "CUSA00001",
		Title:          "My Test",
		AppType:        catalog.AppTypeGame,
		Category:       "GD",
		Version:        "01.00",
		PubToolInfo:    "c_date=20250101",
		SystemVer:      "0x05050000",
		ReleaseDate:    "2025-01-01",
		PkgPath:        "/data/share/pkg/game/UP0000-TEST00000_00-TEST000000000001.pkg",
		PkgSize:        1024,
		PkgMtimeNS:     1735689600000000000,
		PkgFingerprint: "deadbeef",
		SFO:            catalog.NewSFOSnapshot(map[string]string{"TITLE": "My Test"}, []byte{0x00, 0x50, 0x53, 0x46}),
	}
}

func TestRowMD5Stable(t *testing.T) {
	a, b := testItem(), testItem()
	// Timestamps must not contribute to the hash.
	b.CreatedAt = "2025-01-02T00:00:00+00:00"
	b.UpdatedAt = "2025-01-03T00:00:00+00:00"
	if a.RowMD5() != b.RowMD5() {
		t.Errorf("RowMD5 changed with timestamps only: %q vs %q", a.RowMD5(), b.RowMD5())
	}
}

func TestRowMD5ChangesWithContent(t *testing.T) {
	a, b := testItem(), testItem()
	b.Title = "Other"
	if a.RowMD5() == b.RowMD5() {
		t.Errorf("RowMD5 identical for different titles: %q", a.RowMD5())
	}
}

func TestReleaseDateFromPubToolInfo(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "c_date=20250101", want: "2025-01-01"},
		{name: "among_other_tokens", input: "sdk_ver=05050000,c_date=20240615,st_ver=01.00", want: "2024-06-15"},
		{name: "missing", input: "sdk_ver=05050000", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "short_date", input: "c_date=2025", want: ""},
		{name: "non_digit", input: "c_date=2025010x", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := catalog.ReleaseDateFromPubToolInfo(tc.input); got != tc.want {
				t.Errorf("ReleaseDateFromPubToolInfo(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestVersionKey(t *testing.T) {
	tests := []struct {
		input string
		want  []int
	}{
		{input: "01.10", want: []int{1, 10}},
		{input: "1.0", want: []int{1}},
		{input: "01.00", want: []int{1}},
		{input: "0", want: []int{0}},
		{input: "", want: []int{}},
		{input: "2.0.1", want: []int{2, 0, 1}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, catalog.VersionKey(tc.input)); diff != "" {
			t.Errorf("VersionKey(%q) returned unexpected diff (-want +got):\n%s", tc.input, diff)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{a: "01.09", b: "01.10", want: -1},
		{a: "01.10", b: "01.09", want: 1},
		{a: "1.0", b: "01.00", want: 0},
		{a: "2.0.1", b: "2.0", want: 1},
		{a: "", b: "1.0", want: -1},
	}
	for _, tc := range tests {
		if got := catalog.CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
