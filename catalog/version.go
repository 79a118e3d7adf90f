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

package catalog

import (
	"regexp"
	"strconv"
)

var versionDigitsPattern = regexp.MustCompile(`\d+`)

// VersionKey converts a version string like "01.10" into its numeric
// components with trailing zeros stripped, so "1.0" and "01.00" compare
// equal and "01.10" sorts above "01.09".
func VersionKey(version string) []int {
	matches := versionDigitsPattern.FindAllString(version, -1)
	parts := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			// Overlong runs of digits don't fit an int; saturate.
			n = int(^uint(0) >> 1)
		}
		parts = append(parts, n)
	}
	for len(parts) > 1 && parts[len(parts)-1] == 0 {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// CompareVersions orders two version strings by their numeric keys.
// Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	ka, kb := VersionKey(a), VersionKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		switch {
		case ka[i] < kb[i]:
			return -1
		case ka[i] > kb[i]:
			return 1
		}
	}
	switch {
	case len(ka) < len(kb):
		return -1
	case len(ka) > len(kb):
		return 1
	}
	return 0
}
