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

// Package catalogdb is the SQLite-backed catalog repository. It is the
// only writer of catalog rows; readers share the same database file.
package catalogdb

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/log"
	_ "modernc.org/sqlite" // Import sqlite driver
)

// DDL is the embedded catalog schema, applied idempotently on startup.
//
//go:embed schema.sql
var DDL string

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Bounded retry for SQLITE_BUSY inside a worker's unit of work.
const (
	busyRetries    = 5
	busyRetryDelay = 50 * time.Millisecond
)

// UpsertOutcome reports what Upsert did with a row.
type UpsertOutcome int

// The upsert outcomes.
const (
	// UpsertSkipped means the stored row already has the same content hash;
	// nothing was written and updated_at was left untouched.
	UpsertSkipped UpsertOutcome = iota
	// UpsertInserted means a new identity was created.
	UpsertInserted
	// UpsertUpdated means an existing identity changed content.
	UpsertUpdated
)

// Repository wraps the catalog database.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the catalog database with WAL mode and
// foreign keys on.
func Open(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &Repository{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

// Path returns the database file path.
func (r *Repository) Path() string { return r.path }

// InitSchema applies the DDL. Safe to call on every startup; the schema
// statements are all IF NOT EXISTS. An empty DDL is a bootstrap error.
func (r *Repository) InitSchema(ddl string) error {
	if strings.TrimSpace(ddl) == "" {
		return errors.New("catalog schema DDL is empty")
	}
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}

// Begin opens a unit of work. Each ingest worker runs its own.
func (r *Repository) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func nowUTC() string {
	return time.Now().UTC().Truncate(time.Second).Format(timeLayout)
}

// retryBusy reruns fn while SQLite reports the database busy or locked,
// up to a fixed bound.
func retryBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(busyRetryDelay)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// Upsert writes one catalog row inside the caller's transaction. If the
// stored row's content hash matches, the write is skipped entirely so a
// cycle with no real changes writes zero rows.
func (r *Repository) Upsert(ctx context.Context, tx *sql.Tx, item *catalog.Item) (UpsertOutcome, error) {
	rowMD5 := item.RowMD5()

	var storedMD5 sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT row_md5 FROM catalog_items WHERE content_id = ? AND app_type = ? AND version = ?`,
		item.ContentID.String(), item.AppType.String(), item.Version,
	).Scan(&storedMD5)
	switch {
	case err == nil:
		if storedMD5.Valid && storedMD5.String == rowMD5 {
			return UpsertSkipped, nil
		}
		if err := r.update(ctx, tx, item, rowMD5); err != nil {
			return UpsertSkipped, err
		}
		return UpsertUpdated, nil
	case errors.Is(err, sql.ErrNoRows):
		if err := r.insert(ctx, tx, item, rowMD5); err != nil {
			return UpsertSkipped, err
		}
		return UpsertInserted, nil
	default:
		return UpsertSkipped, fmt.Errorf("look up catalog row: %w", err)
	}
}

func (r *Repository) insert(ctx context.Context, tx *sql.Tx, item *catalog.Item, rowMD5 string) error {
	now := nowUTC()
	return retryBusy(func() error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_items (
				content_id, title_id, title, app_type, category, version,
				pubtoolinfo, system_ver, release_date, pkg_path,
				pkg_size, pkg_mtime_ns, pkg_fingerprint,
				icon0_path, pic0_path, pic1_path,
				sfo_json, sfo_raw, sfo_hash,
				row_md5, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ContentID.String(), item.TitleID, item.Title, item.AppType.String(), item.Category, item.Version,
			item.PubToolInfo, item.SystemVer, item.ReleaseDate, item.PkgPath,
			item.PkgSize, item.PkgMtimeNS, item.PkgFingerprint,
			nullable(item.Icon0Path), nullable(item.Pic0Path), nullable(item.Pic1Path),
			item.SFO.FieldsJSON(), item.SFO.Raw, item.SFO.Hash,
			rowMD5, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert catalog row %s: %w", item.ContentID, err)
		}
		return nil
	})
}

func (r *Repository) update(ctx context.Context, tx *sql.Tx, item *catalog.Item, rowMD5 string) error {
	now := nowUTC()
	return retryBusy(func() error {
		_, err := tx.ExecContext(ctx, `
			UPDATE catalog_items SET
				title_id = ?, title = ?, category = ?,
				pubtoolinfo = ?, system_ver = ?, release_date = ?,
				pkg_path = ?, pkg_size = ?, pkg_mtime_ns = ?, pkg_fingerprint = ?,
				icon0_path = ?, pic0_path = ?, pic1_path = ?,
				sfo_json = ?, sfo_raw = ?, sfo_hash = ?,
				row_md5 = ?, updated_at = ?
			WHERE content_id = ? AND app_type = ? AND version = ?`,
			item.TitleID, item.Title, item.Category,
			item.PubToolInfo, item.SystemVer, item.ReleaseDate,
			item.PkgPath, item.PkgSize, item.PkgMtimeNS, item.PkgFingerprint,
			nullable(item.Icon0Path), nullable(item.Pic0Path), nullable(item.Pic1Path),
			item.SFO.FieldsJSON(), item.SFO.Raw, item.SFO.Hash,
			rowMD5, now,
			item.ContentID.String(), item.AppType.String(), item.Version,
		)
		if err != nil {
			return fmt.Errorf("update catalog row %s: %w", item.ContentID, err)
		}
		return nil
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListItems returns all catalog rows ordered by
// (app_type, content_id, version). Rows that fail to decode are skipped.
func (r *Repository) ListItems(ctx context.Context) ([]*catalog.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT content_id, title_id, title, app_type, category, version,
		       pubtoolinfo, system_ver, release_date, pkg_path,
		       pkg_size, pkg_mtime_ns, pkg_fingerprint,
		       icon0_path, pic0_path, pic1_path,
		       sfo_json, sfo_raw, sfo_hash,
		       created_at, updated_at
		FROM catalog_items
		ORDER BY app_type, content_id, version`)
	if err != nil {
		return nil, fmt.Errorf("list catalog rows: %w", err)
	}
	defer rows.Close()

	var items []*catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			log.Debugf("Skipping undecodable catalog row: %v", err)
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (*catalog.Item, error) {
	var (
		contentID, appType                     string
		titleID, title, category, version      sql.NullString
		pubToolInfo, systemVer, releaseDate    sql.NullString
		pkgPath                                string
		pkgSize, pkgMtimeNS                    int64
		pkgFingerprint, icon0, pic0, pic1      sql.NullString
		sfoJSON, sfoHash, createdAt, updatedAt sql.NullString
		sfoRaw                                 []byte
	)
	if err := rows.Scan(
		&contentID, &titleID, &title, &appType, &category, &version,
		&pubToolInfo, &systemVer, &releaseDate, &pkgPath,
		&pkgSize, &pkgMtimeNS, &pkgFingerprint,
		&icon0, &pic0, &pic1,
		&sfoJSON, &sfoRaw, &sfoHash,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	parsedID, err := catalog.ParseContentID(contentID)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if sfoJSON.Valid && sfoJSON.String != "" {
		fields = decodeSFOFields(sfoJSON.String)
	}

	return &catalog.Item{
		ContentID:      parsedID,
		TitleID:        titleID.String,
		Title:          title.String,
		AppType:        catalog.ParseAppType(appType),
		Category:       category.String,
		Version:        version.String,
		PubToolInfo:    pubToolInfo.String,
		SystemVer:      systemVer.String,
		ReleaseDate:    releaseDate.String,
		PkgPath:        pkgPath,
		PkgSize:        pkgSize,
		PkgMtimeNS:     pkgMtimeNS,
		PkgFingerprint: pkgFingerprint.String,
		Icon0Path:      icon0.String,
		Pic0Path:       pic0.String,
		Pic1Path:       pic1.String,
		SFO: catalog.SFOSnapshot{
			Fields: fields,
			Raw:    sfoRaw,
			Hash:   sfoHash.String,
		},
		CreatedAt: createdAt.String,
		UpdatedAt: updatedAt.String,
	}, nil
}

// DeleteWherePkgPathNotIn prunes every row whose pkg_path is absent from
// the given set. An empty set deletes all rows. Runs inside the caller's
// transaction.
func (r *Repository) DeleteWherePkgPathNotIn(ctx context.Context, tx *sql.Tx, paths []string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if len(paths) == 0 {
		result, err = tx.ExecContext(ctx, `DELETE FROM catalog_items`)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
		args := make([]any, len(paths))
		for i, p := range paths {
			args[i] = p
		}
		result, err = tx.ExecContext(ctx,
			`DELETE FROM catalog_items WHERE pkg_path NOT IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("prune catalog rows: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return deleted, nil
}

// IncrementDownloadCount bumps the counter for a title and returns the
// new value.
func (r *Repository) IncrementDownloadCount(ctx context.Context, titleID string) (int64, error) {
	var count int64
	err := retryBusy(func() error {
		return r.db.QueryRowContext(ctx, `
			INSERT INTO download_counts (title_id, count) VALUES (?, 1)
			ON CONFLICT(title_id) DO UPDATE SET count = count + 1
			RETURNING count`, titleID).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment download count for %s: %w", titleID, err)
	}
	return count, nil
}

// DownloadCount returns the counter for a title, zero when unseen.
func (r *Repository) DownloadCount(ctx context.Context, titleID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM download_counts WHERE title_id = ?`, titleID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("download count for %s: %w", titleID, err)
	}
	return count, nil
}

// DownloadCounts returns all counters keyed by title ID.
func (r *Repository) DownloadCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT title_id, count FROM download_counts`)
	if err != nil {
		return nil, fmt.Errorf("list download counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var titleID string
		var count int64
		if err := rows.Scan(&titleID, &count); err != nil {
			return nil, fmt.Errorf("scan download count: %w", err)
		}
		counts[titleID] = count
	}
	return counts, rows.Err()
}

// TitleVersion is the projection the download API needs to pick the best
// row for a title.
type TitleVersion struct {
	ContentID string
	AppType   string
	Version   string
	UpdatedAt string
}

// VersionsForTitle returns all catalog rows carrying the given title ID.
func (r *Repository) VersionsForTitle(ctx context.Context, titleID string) ([]TitleVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(content_id, ''), COALESCE(app_type, ''),
		       COALESCE(version, ''), COALESCE(updated_at, '')
		FROM catalog_items
		WHERE title_id = ?`, titleID)
	if err != nil {
		return nil, fmt.Errorf("versions for %s: %w", titleID, err)
	}
	defer rows.Close()

	var versions []TitleVersion
	for rows.Next() {
		var v TitleVersion
		if err := rows.Scan(&v.ContentID, &v.AppType, &v.Version, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan title version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func decodeSFOFields(sfoJSON string) map[string]string {
	fields := map[string]string{}
	if err := json.Unmarshal([]byte(sfoJSON), &fields); err != nil {
		return map[string]string{}
	}
	return fields
}
