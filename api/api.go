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

// Package api is the read-only HTTP surface store clients talk to: the
// store-db hash check and the download resolver.
package api

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/catalogdb"
	"github.com/hb-store/homebrew-cdn/log"
	_ "modernc.org/sqlite" // Import sqlite driver
)

// CatalogReader is the slice of the catalog repository the API needs.
type CatalogReader interface {
	VersionsForTitle(ctx context.Context, titleID string) ([]catalogdb.TitleVersion, error)
	DownloadCount(ctx context.Context, titleID string) (int64, error)
}

// Server resolves store client requests. It never writes.
type Server struct {
	repo        CatalogReader
	storeDBPath string
	baseURL     string
}

// NewServer wires the API against the catalog repository and the
// published store database file.
func NewServer(repo CatalogReader, storeDBPath, baseURL string) *Server {
	return &Server{
		repo:        repo,
		storeDBPath: storeDBPath,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api.php", s.handleHash).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/download.php", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	return r
}

// handleHash reports the md5 of the published store.db so clients can
// skip re-downloading an unchanged database.
func (s *Server) handleHash(w http.ResponseWriter, _ *http.Request) {
	hash, err := s.storeDBHash()
	if err != nil {
		log.Errorf("Hash %s: %v", s.storeDBPath, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "hash_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash})
}

func (s *Server) storeDBHash() (string, error) {
	f, err := os.Open(s.storeDBPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	titleID := strings.TrimSpace(r.URL.Query().Get("tid"))

	if r.URL.Query().Get("check") == "true" {
		count, err := s.repo.DownloadCount(r.Context(), titleID)
		if err != nil {
			log.Errorf("Download count %s: %v", titleID, err)
			count = 0
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"number_of_downloads": strconv.FormatInt(count, 10),
		})
		return
	}

	url := s.resolveDownloadURL(r.Context(), titleID)
	if url == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "title_id_not_found"})
		return
	}
	// TODO: bump the download counter here once hb-store clients stop
	// issuing a check=true probe before every real download.
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, url, http.StatusFound)
}

// resolveDownloadURL picks the best catalog row for a title, falling
// back to the published store-db package column.
func (s *Server) resolveDownloadURL(ctx context.Context, titleID string) string {
	if titleID == "" {
		return ""
	}
	if url := s.urlFromCatalog(ctx, titleID); url != "" {
		return url
	}
	return s.urlFromStoreDB(ctx, titleID)
}

func (s *Server) urlFromCatalog(ctx context.Context, titleID string) string {
	versions, err := s.repo.VersionsForTitle(ctx, titleID)
	if err != nil {
		log.Errorf("Versions for %s: %v", titleID, err)
		return ""
	}
	if len(versions) == 0 {
		return ""
	}

	best := versions[0]
	for _, v := range versions[1:] {
		if betterVersion(v, best) {
			best = v
		}
	}
	if best.ContentID == "" || best.AppType == "" {
		return ""
	}
	return fmt.Sprintf("%s/pkg/%s/%s.pkg", s.baseURL, strings.ToLower(best.AppType), best.ContentID)
}

// betterVersion reports whether a beats b: higher version wins, then
// fresher updated_at, then the lower app_type and content_id.
func betterVersion(a, b catalogdb.TitleVersion) bool {
	if c := catalog.CompareVersions(a.Version, b.Version); c != 0 {
		return c > 0
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.AppType != b.AppType {
		return a.AppType < b.AppType
	}
	return a.ContentID < b.ContentID
}

func (s *Server) urlFromStoreDB(ctx context.Context, titleID string) string {
	if _, err := os.Stat(s.storeDBPath); err != nil {
		return ""
	}
	db, err := sql.Open("sqlite", s.storeDBPath)
	if err != nil {
		log.Errorf("Open store db: %v", err)
		return ""
	}
	defer db.Close()

	var pkg sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT package FROM homebrews WHERE id = ? LIMIT 1`, titleID).Scan(&pkg)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	if err != nil {
		log.Errorf("Store db package for %s: %v", titleID, err)
		return ""
	}
	return strings.TrimSpace(pkg.String)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"encode_failed"}`)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}
