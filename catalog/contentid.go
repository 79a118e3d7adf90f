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

// Package catalog defines the canonical catalog entities shared by the
// reconciler, the repository and the output exporters.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// contentIDPattern matches the RR####-TTTT#####_##-IIIIIIIIIIIIIIII shape
// carried in PARAM.SFO's CONTENT_ID field.
var contentIDPattern = regexp.MustCompile(`^[A-Z]{2}\d{4}-[A-Z]{4}\d{5}_\d{2}-[A-Z0-9]{16}$`)

// ContentID is the primary package identifier parsed from PKG metadata.
type ContentID string

// ParseContentID validates the raw CONTENT_ID value from PARAM.SFO.
func ParseContentID(raw string) (ContentID, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("content ID is empty")
	}
	if !contentIDPattern.MatchString(value) {
		return "", fmt.Errorf("content ID %q doesn't match the expected shape", value)
	}
	return ContentID(value), nil
}

func (c ContentID) String() string { return string(c) }

// Region tags derived from the content ID prefix.
const (
	RegionUSA     = "USA"
	RegionEUR     = "EUR"
	RegionJAP     = "JAP"
	RegionAsia    = "ASIA"
	RegionUnknown = "UNKNOWN"
)

var regionByPrefix = map[string]string{
	"UP": RegionUSA,
	"EP": RegionEUR,
	"JP": RegionJAP,
	"HP": RegionAsia,
	"AP": RegionAsia,
	"KP": RegionAsia,
}

// Region derives the release region from the first two characters of the
// content ID.
func (c ContentID) Region() string {
	if len(c) < 2 {
		return RegionUnknown
	}
	if region, ok := regionByPrefix[strings.ToUpper(string(c[:2]))]; ok {
		return region
	}
	return RegionUnknown
}
