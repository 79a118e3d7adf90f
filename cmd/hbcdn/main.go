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

// Package main runs the homebrew CDN backend: the periodic PKG
// reconciler plus the store-facing HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hb-store/homebrew-cdn/api"
	"github.com/hb-store/homebrew-cdn/catalogdb"
	"github.com/hb-store/homebrew-cdn/config"
	"github.com/hb-store/homebrew-cdn/export"
	"github.com/hb-store/homebrew-cdn/export/fpkgi"
	"github.com/hb-store/homebrew-cdn/export/storedb"
	"github.com/hb-store/homebrew-cdn/ingest"
	"github.com/hb-store/homebrew-cdn/log"
	"github.com/hb-store/homebrew-cdn/pkgstore"
	"github.com/hb-store/homebrew-cdn/probe"
	"github.com/hb-store/homebrew-cdn/reconcile"
	"github.com/hb-store/homebrew-cdn/schedule"
	"github.com/hb-store/homebrew-cdn/snapshot"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Root of the data directory")
	settingsFile := flag.String("settings", "", "Settings file (default <data-dir>/settings.ini)")
	pkgToolBin := flag.String("pkgtool", "pkgtool", "Path to the pkgtool binary")
	flag.Parse()

	if err := run(*dataDir, *settingsFile, *pkgToolBin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, settingsFile, pkgToolBin string) error {
	paths := config.NewPaths(dataDir)
	if settingsFile == "" {
		settingsFile = filepath.Join(paths.DataDir, "settings.ini")
	}

	settings, err := config.Load(settingsFile)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	log.SetLogger(&log.DefaultLogger{MinLevel: level})

	if err := paths.EnsureLayout(); err != nil {
		return err
	}
	store := pkgstore.New(paths.PkgRoot(), paths.ErrorsDir())
	if err := store.EnsureLayout(); err != nil {
		return err
	}

	repo, err := catalogdb.Open(paths.CatalogDBPath())
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.InitSchema(catalogdb.DDL); err != nil {
		return err
	}

	prober := probe.NewPkgTool(pkgToolBin, store.MediaDir(),
		time.Duration(settings.PkgToolTimeoutSeconds)*time.Second)
	worker := ingest.NewWorker(store, prober, repo)

	baseURL := settings.BaseURL()
	exporters := []export.Exporter{
		storedb.New(paths.StoreDBPath(), paths.ShareDir(), baseURL, repo),
		fpkgi.New(paths.FPKGiDir(), baseURL),
	}
	reconciler := reconcile.New(paths.LockPath(), store, snapshot.NewStore(paths.SnapshotPath()),
		worker, repo, exporters, settings.OutputTargets, settings.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// First cycle runs right away so a restart converges before the
	// scheduler's first fire.
	reconciler.Run(ctx)

	scheduler, err := schedule.New(settings.CronExpression,
		time.Duration(settings.ScanSeconds)*time.Second,
		func() { reconciler.Run(ctx) })
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    settings.Addr(),
		Handler: api.NewServer(repo, paths.StoreDBPath(), baseURL).Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Infof("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	return nil
}
