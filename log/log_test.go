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

package log_test

import (
	"testing"

	"github.com/hb-store/homebrew-cdn/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    log.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: log.DebugLevel},
		{name: "info", input: "info", want: log.InfoLevel},
		{name: "warn_alias", input: "warn", want: log.WarnLevel},
		{name: "warning", input: "warning", want: log.WarnLevel},
		{name: "error_mixed_case", input: "Error", want: log.ErrorLevel},
		{name: "empty_defaults_to_info", input: "", want: log.InfoLevel},
		{name: "padded", input: "  info  ", want: log.InfoLevel},
		{name: "unknown", input: "trace", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := log.ParseLevel(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q): want error, got %v", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
