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

package catalogdb_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/catalogdb"
)

func openRepo(t *testing.T) *catalogdb.Repository {
	t.Helper()
	repo, err := catalogdb.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.InitSchema(catalogdb.DDL); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return repo
}

func testItem(contentID catalog.ContentID, version string) *catalog.Item {
	return &catalog.Item{
		ContentID:      contentID,
		TitleID:        "CUSA00001",
		Title:          "My Test",
		AppType:        catalog.AppTypeGame,
		Category:       "GD",
		Version:        version,
		PubToolInfo:    "c_date=20250101",
		SystemVer:      "0x05050000",
		ReleaseDate:    "2025-01-01",
		PkgPath:        "/data/share/pkg/game/" + contentID.String() + ".pkg",
		PkgSize:        2048,
		PkgMtimeNS:     1735689600000000000,
		PkgFingerprint: "f00d",
		SFO:            catalog.NewSFOSnapshot(map[string]string{"TITLE": "My Test", "CATEGORY": "GD"}, []byte{0x00, 0x50}),
	}
}

func upsert(t *testing.T, repo *catalogdb.Repository, item *catalog.Item) catalogdb.UpsertOutcome {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	outcome, err := repo.Upsert(ctx, tx, item)
	if err != nil {
		tx.Rollback()
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return outcome
}

func TestInitSchemaIdempotent(t *testing.T) {
	repo := openRepo(t)
	if err := repo.InitSchema(catalogdb.DDL); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}
}

func TestInitSchemaEmptyDDL(t *testing.T) {
	repo := openRepo(t)
	if err := repo.InitSchema("  \n"); err == nil {
		t.Error("InitSchema with empty DDL: want error, got nil")
	}
}

func TestUpsertInsertThenSkip(t *testing.T) {
	repo := openRepo(t)
	item := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")

	if got := upsert(t, repo, item); got != catalogdb.UpsertInserted {
		t.Fatalf("first Upsert = %v, want UpsertInserted", got)
	}
	if got := upsert(t, repo, testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")); got != catalogdb.UpsertSkipped {
		t.Fatalf("identical Upsert = %v, want UpsertSkipped", got)
	}

	items, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ListItems returned %d rows, want 1", len(items))
	}
}

func TestUpsertSkipPreservesUpdatedAt(t *testing.T) {
	repo := openRepo(t)
	item := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")
	upsert(t, repo, item)

	before, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	upsert(t, repo, testItem("UP0000-TEST00000_00-TEST000000000001", "01.00"))
	after, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if before[0].UpdatedAt != after[0].UpdatedAt {
		t.Errorf("updated_at changed on skipped upsert: %q -> %q", before[0].UpdatedAt, after[0].UpdatedAt)
	}
}

func TestUpsertUpdatePreservesCreatedAt(t *testing.T) {
	repo := openRepo(t)
	upsert(t, repo, testItem("UP0000-TEST00000_00-TEST000000000001", "01.00"))
	before, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}

	changed := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")
	changed.Title = "Renamed"
	if got := upsert(t, repo, changed); got != catalogdb.UpsertUpdated {
		t.Fatalf("changed Upsert = %v, want UpsertUpdated", got)
	}

	after, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if after[0].Title != "Renamed" {
		t.Errorf("Title = %q after update, want %q", after[0].Title, "Renamed")
	}
	if before[0].CreatedAt != after[0].CreatedAt {
		t.Errorf("created_at changed on update: %q -> %q", before[0].CreatedAt, after[0].CreatedAt)
	}
}

func TestListItemsOrdered(t *testing.T) {
	repo := openRepo(t)
	game := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")
	dlc := testItem("UP0000-TEST00000_00-TEST000000000002", "01.00")
	dlc.AppType = catalog.AppTypeDLC
	dlc.PkgPath = "/data/share/pkg/dlc/b.pkg"
	upsert(t, repo, game)
	upsert(t, repo, dlc)

	items, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	var order []catalog.AppType
	for _, item := range items {
		order = append(order, item.AppType)
	}
	want := []catalog.AppType{catalog.AppTypeDLC, catalog.AppTypeGame}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("ListItems order returned unexpected diff (-want +got):\n%s", diff)
	}
}

func TestListItemsRoundTripsSFO(t *testing.T) {
	repo := openRepo(t)
	item := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")
	upsert(t, repo, item)

	items, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if diff := cmp.Diff(item.SFO.Fields, items[0].SFO.Fields); diff != "" {
		t.Errorf("SFO fields round trip returned unexpected diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(item.SFO.Raw, items[0].SFO.Raw); diff != "" {
		t.Errorf("SFO raw round trip returned unexpected diff (-want +got):\n%s", diff)
	}
	if items[0].SFO.Hash != item.SFO.Hash {
		t.Errorf("SFO hash = %q, want %q", items[0].SFO.Hash, item.SFO.Hash)
	}
}

func deleteNotIn(t *testing.T, repo *catalogdb.Repository, paths []string) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	deleted, err := repo.DeleteWherePkgPathNotIn(ctx, tx, paths)
	if err != nil {
		tx.Rollback()
		t.Fatalf("DeleteWherePkgPathNotIn: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return deleted
}

func TestDeleteWherePkgPathNotIn(t *testing.T) {
	repo := openRepo(t)
	keep := testItem("UP0000-TEST00000_00-TEST000000000001", "01.00")
	drop := testItem("UP0000-TEST00000_00-TEST000000000002", "01.00")
	drop.PkgPath = "/data/share/pkg/game/gone.pkg"
	upsert(t, repo, keep)
	upsert(t, repo, drop)

	if got := deleteNotIn(t, repo, []string{keep.PkgPath}); got != 1 {
		t.Errorf("DeleteWherePkgPathNotIn = %d deleted, want 1", got)
	}
	items, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].PkgPath != keep.PkgPath {
		t.Errorf("surviving rows = %+v, want only %s", items, keep.PkgPath)
	}
}

func TestDeleteWherePkgPathNotInEmptySet(t *testing.T) {
	repo := openRepo(t)
	upsert(t, repo, testItem("UP0000-TEST00000_00-TEST000000000001", "01.00"))
	upsert(t, repo, testItem("UP0000-TEST00000_00-TEST000000000002", "01.00"))

	if got := deleteNotIn(t, repo, nil); got != 2 {
		t.Errorf("DeleteWherePkgPathNotIn(empty) = %d deleted, want 2", got)
	}
}

func TestDownloadCounts(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	if count, err := repo.DownloadCount(ctx, "CUSA00001"); err != nil || count != 0 {
		t.Fatalf("DownloadCount before increments = (%d, %v), want (0, nil)", count, err)
	}
	for want := int64(1); want <= 3; want++ {
		got, err := repo.IncrementDownloadCount(ctx, "CUSA00001")
		if err != nil {
			t.Fatalf("IncrementDownloadCount: %v", err)
		}
		if got != want {
			t.Errorf("IncrementDownloadCount = %d, want %d", got, want)
		}
	}
	counts, err := repo.DownloadCounts(ctx)
	if err != nil {
		t.Fatalf("DownloadCounts: %v", err)
	}
	if diff := cmp.Diff(map[string]int64{"CUSA00001": 3}, counts); diff != "" {
		t.Errorf("DownloadCounts returned unexpected diff (-want +got):\n%s", diff)
	}
}

func TestVersionsForTitle(t *testing.T) {
	repo := openRepo(t)
	v9 := testItem("UP0000-TEST00000_00-TEST000000000001", "01.09")
	v10 := testItem("UP0000-TEST00000_00-TEST000000000001", "01.10")
	upsert(t, repo, v9)
	upsert(t, repo, v10)

	versions, err := repo.VersionsForTitle(context.Background(), "CUSA00001")
	if err != nil {
		t.Fatalf("VersionsForTitle: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("VersionsForTitle returned %d rows, want 2", len(versions))
	}
	if _, err := repo.VersionsForTitle(context.Background(), "CUSA99999"); err != nil {
		t.Errorf("VersionsForTitle for unknown title: %v", err)
	}
}

func TestWALMode(t *testing.T) {
	repo := openRepo(t)
	db, err := sql.Open("sqlite", repo.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
