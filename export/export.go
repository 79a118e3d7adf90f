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

// Package export defines the output exporter contract shared by the
// store-db and FPKGi targets.
package export

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hb-store/homebrew-cdn/catalog"
)

// The known exporter targets, in the order cleanup considers them.
const (
	TargetHBStore = "hb-store"
	TargetFPKGi   = "fpkgi"
)

// Exporter publishes the catalog into one output format. Each exporter
// owns a closed set of managed files; nothing outside that set is ever
// touched.
type Exporter interface {
	// Target returns the configuration tag identifying this exporter.
	Target() string
	// Export rewrites the managed outputs from the given items and
	// returns the files it produced. Outputs replace atomically.
	Export(ctx context.Context, items []*catalog.Item) ([]string, error)
	// Cleanup removes every managed file that currently exists and
	// returns the ones it removed.
	Cleanup() ([]string, error)
	// ManagedFiles enumerates the full managed set, existing or not.
	ManagedFiles() []string
}

// CDNURL publishes a filesystem path as an absolute URL under baseURL,
// using the path's location relative to shareDir as the route. Paths
// outside shareDir fall back to the raw path string.
func CDNURL(baseURL, shareDir, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(shareDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + filepath.ToSlash(rel)
}

// PackageURL is the canonical download route for an item.
func PackageURL(baseURL string, item *catalog.Item) string {
	return strings.TrimSuffix(baseURL, "/") +
		"/pkg/" + item.AppType.String() + "/" + item.ContentID.String() + ".pkg"
}

// CoverURL is the canonical icon route for an item, empty when no icon
// was extracted.
func CoverURL(baseURL string, item *catalog.Item) string {
	if item.Icon0Path == "" {
		return ""
	}
	return strings.TrimSuffix(baseURL, "/") +
		"/pkg/_media/" + item.ContentID.String() + "_icon0.png"
}
