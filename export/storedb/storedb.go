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

// Package storedb publishes the catalog as the hb-store client database,
// a single-table SQLite file the console downloads whole.
package storedb

import (
	"context"
	"crypto/md5"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/export"
	"github.com/hb-store/homebrew-cdn/log"
	_ "modernc.org/sqlite" // Import sqlite driver
)

// DDL is the embedded store database schema.
//
//go:embed schema.sql
var DDL string

// CountSource supplies the published download counters, keyed by title
// ID. Titles without a counter publish zero.
type CountSource interface {
	DownloadCounts(ctx context.Context) (map[string]int64, error)
}

// Exporter writes the hb-store database.
type Exporter struct {
	dbPath   string
	shareDir string
	baseURL  string
	counts   CountSource
}

// New creates the hb-store exporter. dbPath is the target database file,
// shareDir the public root CDN URLs are computed against.
func New(dbPath, shareDir, baseURL string, counts CountSource) *Exporter {
	return &Exporter{
		dbPath:   filepath.Clean(dbPath),
		shareDir: filepath.Clean(shareDir),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		counts:   counts,
	}
}

// Target implements export.Exporter.
func (e *Exporter) Target() string { return export.TargetHBStore }

// ManagedFiles lists the database file and its SQLite side files.
func (e *Exporter) ManagedFiles() []string {
	return []string{e.dbPath, e.dbPath + "-wal", e.dbPath + "-shm"}
}

// Export rewrites the homebrews table from the catalog in one
// transaction, so readers either see the previous generation or this
// one, never a mix.
func (e *Exporter) Export(ctx context.Context, items []*catalog.Item) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(e.dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store db dir: %w", err)
	}

	counts := map[string]int64{}
	if e.counts != nil {
		loaded, err := e.counts.DownloadCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("load download counts: %w", err)
		}
		counts = loaded
	}

	db, err := sql.Open("sqlite", e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db %s: %w", e.dbPath, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, DDL); err != nil {
		return nil, fmt.Errorf("apply store db schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin store db rewrite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM homebrews`); err != nil {
		return nil, fmt.Errorf("clear homebrews: %w", err)
	}
	for _, item := range items {
		if err := e.insert(ctx, tx, item, counts[item.TitleID]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit store db rewrite: %w", err)
	}
	log.Debugf("Published %d rows to %s", len(items), e.dbPath)
	return []string{e.dbPath}, nil
}

// Cleanup removes the database and its side files.
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

func (e *Exporter) insert(ctx context.Context, tx *sql.Tx, item *catalog.Item, downloads int64) error {
	// Column values in schema order, row_md5 computed over all of them.
	values := []any{
		item.ContentID.String(),
		item.TitleID,
		item.Title,
		nil, // desc
		nullableURL(export.CDNURL(e.baseURL, e.shareDir, item.Icon0Path)),
		export.CDNURL(e.baseURL, e.shareDir, item.PkgPath),
		item.Version,
		nil, // picpath
		nil, // desc_1
		nil, // desc_2
		nil, // ReviewStars
		e.sizeOnDisk(item),
		nil, // Author
		publishedAppType(item.AppType),
		nil, // pv
		nullableURL(export.CDNURL(e.baseURL, e.shareDir, item.Pic0Path)),
		nullableURL(export.CDNURL(e.baseURL, e.shareDir, item.Pic1Path)),
		item.ReleaseDate,
		downloads,
		nil, // github
		nil, // video
		nil, // twitter
		nil, // md5
	}

	rowMD5, err := rowHash(values)
	if err != nil {
		return fmt.Errorf("hash store row %s: %w", item.ContentID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO homebrews (
			content_id, id, name, "desc", image, package, version, picpath,
			desc_1, desc_2, ReviewStars, Size, Author, apptype, pv,
			main_icon_path, main_menu_pic, releaseddate, number_of_downloads,
			github, video, twitter, md5, row_md5
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			id=excluded.id, name=excluded.name, "desc"=excluded."desc",
			image=excluded.image, package=excluded.package,
			version=excluded.version, picpath=excluded.picpath,
			desc_1=excluded.desc_1, desc_2=excluded.desc_2,
			ReviewStars=excluded.ReviewStars, Size=excluded.Size,
			Author=excluded.Author, apptype=excluded.apptype, pv=excluded.pv,
			main_icon_path=excluded.main_icon_path,
			main_menu_pic=excluded.main_menu_pic,
			releaseddate=excluded.releaseddate,
			number_of_downloads=excluded.number_of_downloads,
			github=excluded.github, video=excluded.video,
			twitter=excluded.twitter, md5=excluded.md5,
			row_md5=excluded.row_md5`,
		append(values, rowMD5)...,
	)
	if err != nil {
		return fmt.Errorf("insert store row %s: %w", item.ContentID, err)
	}
	return nil
}

// sizeOnDisk publishes the current file size; the catalog value stands
// in if the file cannot be statted right now.
func (e *Exporter) sizeOnDisk(item *catalog.Item) int64 {
	info, err := os.Stat(item.PkgPath)
	if err != nil {
		return item.PkgSize
	}
	return info.Size()
}

// rowHash fingerprints the published column values so store clients can
// detect row-level changes without diffing every column.
func rowHash(values []any) (string, error) {
	payload, err := catalog.MarshalCanonical(values)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}

// publishedAppType renders the app type the way store clients display
// it, with a leading capital.
func publishedAppType(appType catalog.AppType) string {
	s := appType.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func nullableURL(url string) any {
	if url == "" {
		return nil
	}
	return url
}
