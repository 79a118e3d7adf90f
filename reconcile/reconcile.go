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

// Package reconcile drives one full catalog cycle: diff the PKG tree
// against the last snapshot, ingest what changed, prune what vanished,
// publish the outputs.
package reconcile

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/hb-store/homebrew-cdn/catalogdb"
	"github.com/hb-store/homebrew-cdn/export"
	"github.com/hb-store/homebrew-cdn/ingest"
	"github.com/hb-store/homebrew-cdn/log"
	"github.com/hb-store/homebrew-cdn/pkgstore"
	"github.com/hb-store/homebrew-cdn/snapshot"
)

// Result summarizes one cycle.
type Result struct {
	// Added counts new paths that produced catalog writes.
	Added int
	// Updated counts changed paths that produced catalog writes.
	Updated int
	// Removed counts pruned catalog rows.
	Removed int
	// Failed counts quarantined candidates.
	Failed int
	// ExportedFiles counts output files written across all targets.
	ExportedFiles int
}

// Reconciler owns the cycle. It is safe to call Run repeatedly; the
// file lock turns overlapping calls into no-ops.
type Reconciler struct {
	lock      *flock.Flock
	store     *pkgstore.Store
	snapshots *snapshot.Store
	worker    *ingest.Worker
	repo      *catalogdb.Repository
	exporters []export.Exporter
	enabled   []string
	workers   int
}

// New wires a reconciler. exporters is every known exporter; enabled is
// the ordered subset of targets that actually publish, the rest get
// cleaned up each cycle. workers bounds the ingest pool.
func New(lockPath string, store *pkgstore.Store, snapshots *snapshot.Store, worker *ingest.Worker, repo *catalogdb.Repository, exporters []export.Exporter, enabled []string, workers int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler{
		lock:      flock.New(lockPath),
		store:     store,
		snapshots: snapshots,
		worker:    worker,
		repo:      repo,
		exporters: exporters,
		enabled:   enabled,
		workers:   workers,
	}
}

// Run executes one cycle and never returns an error: every failure is
// logged and reflected in the counts, so the scheduler keeps running.
func (r *Reconciler) Run(ctx context.Context) Result {
	locked, err := r.lock.TryLock()
	if err != nil {
		log.Errorf("Cycle lock %s: %v", r.lock.Path(), err)
		return Result{}
	}
	if !locked {
		log.Warnf("Cycle already in progress (lock %s held), skipping", r.lock.Path())
		return Result{}
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			log.Errorf("Release cycle lock: %v", err)
		}
	}()

	previous := r.snapshots.Load()
	current, err := r.buildSnapshot()
	if err != nil {
		log.Errorf("Scan PKG tree: %v", err)
		return Result{}
	}
	delta := snapshot.Diff(previous, current)

	result := r.ingestAll(ctx, delta)

	post, err := r.buildSnapshot()
	if err != nil {
		log.Errorf("Re-scan PKG tree after ingest: %v", err)
		return result
	}

	removed, err := r.prune(ctx, post)
	if err != nil {
		log.Errorf("Prune catalog: %v", err)
	}
	result.Removed = removed

	exportedFiles, exportOK := r.export(ctx)
	result.ExportedFiles = exportedFiles

	if exportOK {
		if err := r.snapshots.Save(post); err != nil {
			log.Errorf("Persist snapshot: %v", err)
		}
	} else {
		log.Warnf("Skipping snapshot persist after exporter failure; next cycle retries")
	}

	log.Infof("Cycle done: added=%d updated=%d removed=%d failed=%d exported_files=%d",
		result.Added, result.Updated, result.Removed, result.Failed, result.ExportedFiles)
	return result
}

// buildSnapshot stats every scanned PKG path. Paths that vanish between
// scan and stat are dropped; the next cycle sees them either way.
func (r *Reconciler) buildSnapshot() (snapshot.Snapshot, error) {
	paths, err := r.store.Scan()
	if err != nil {
		return nil, err
	}
	snap := make(snapshot.Snapshot, len(paths))
	for _, path := range paths {
		size, mtimeNS, err := r.store.Stat(path)
		if err != nil {
			log.Debugf("Skipping unstatable %s: %v", path, err)
			continue
		}
		snap[path] = snapshot.Entry{Size: size, MtimeNS: mtimeNS}
	}
	return snap, nil
}

// ingestAll drains added and updated candidates through a bounded pool.
func (r *Reconciler) ingestAll(ctx context.Context, delta snapshot.Delta) Result {
	fromUpdate := make(map[string]bool, len(delta.Updated))
	for _, path := range delta.Updated {
		fromUpdate[path] = true
	}
	candidates := make([]string, 0, len(delta.Added)+len(delta.Updated))
	candidates = append(candidates, delta.Added...)
	candidates = append(candidates, delta.Updated...)

	var mu sync.Mutex
	var result Result

	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, path := range candidates {
		g.Go(func() error {
			outcome := r.ingestOne(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case ingest.OutcomeUpserted:
				if fromUpdate[path] {
					result.Updated++
				} else {
					result.Added++
				}
			case ingest.OutcomeQuarantined:
				result.Failed++
			}
			return nil
		})
	}
	// Workers never return errors; Wait just joins the pool.
	_ = g.Wait()
	return result
}

// ingestOne shields the pool from worker panics: a panicking candidate
// is quarantined like any other failure and the pool keeps draining.
func (r *Reconciler) ingestOne(ctx context.Context, path string) (outcome ingest.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("Ingest worker panic on %s: %v\n%s", path, rec, debug.Stack())
			if _, err := r.store.Quarantine(path, ingest.ReasonWorkerError); err != nil {
				log.Errorf("Quarantine after panic %s: %v", path, err)
			}
			outcome = ingest.OutcomeQuarantined
		}
	}()
	return r.worker.Ingest(ctx, path).Outcome
}

// prune drops every catalog row whose file is gone from the tree.
func (r *Reconciler) prune(ctx context.Context, post snapshot.Snapshot) (int, error) {
	paths := make([]string, 0, len(post))
	for path := range post {
		paths = append(paths, path)
	}
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := r.repo.DeleteWherePkgPathNotIn(ctx, tx, paths)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// export publishes every enabled target in configured order and cleans
// up the rest, so disabling a target removes its files next cycle. A
// failing exporter aborts only itself.
func (r *Reconciler) export(ctx context.Context) (files int, ok bool) {
	items, err := r.repo.ListItems(ctx)
	if err != nil {
		log.Errorf("List catalog for export: %v", err)
		return 0, false
	}

	byTarget := make(map[string]export.Exporter, len(r.exporters))
	for _, exporter := range r.exporters {
		byTarget[exporter.Target()] = exporter
	}

	ok = true
	enabled := make(map[string]bool, len(r.enabled))
	for _, target := range r.enabled {
		exporter, known := byTarget[target]
		if !known {
			log.Warnf("Unknown output target %q, skipping", target)
			continue
		}
		enabled[target] = true
		written, err := exporter.Export(ctx, items)
		files += len(written)
		if err != nil {
			log.Errorf("Export %s: %v", target, err)
			ok = false
		}
	}
	for _, exporter := range r.exporters {
		if enabled[exporter.Target()] {
			continue
		}
		removed, err := exporter.Cleanup()
		if err != nil {
			log.Errorf("Cleanup %s: %v", exporter.Target(), err)
			ok = false
		}
		if len(removed) > 0 {
			log.Infof("Removed %d stale %s output files", len(removed), exporter.Target())
		}
	}
	return files, ok
}
