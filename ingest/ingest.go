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

// Package ingest turns one candidate PKG path into a catalog upsert or a
// quarantine decision.
package ingest

import (
	"context"
	"errors"
	"io/fs"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/catalogdb"
	"github.com/hb-store/homebrew-cdn/fingerprint"
	"github.com/hb-store/homebrew-cdn/log"
	"github.com/hb-store/homebrew-cdn/pkgstore"
	"github.com/hb-store/homebrew-cdn/probe"
)

// Outcome tags what happened to one candidate.
type Outcome int

// The ingest outcomes.
const (
	// OutcomeUpserted means the candidate produced a new or changed row.
	OutcomeUpserted Outcome = iota
	// OutcomeUnchanged means the repository skipped a content-identical row.
	OutcomeUnchanged
	// OutcomeQuarantined means the candidate was rejected; Reason carries
	// the quarantine tag.
	OutcomeQuarantined
)

// Quarantine reasons raised by the worker itself (the probe kinds carry
// their own).
const (
	ReasonVanished    = "vanished"
	ReasonDuplicate   = "duplicate"
	ReasonConflict    = "conflict"
	ReasonWorkerError = "worker_error"
)

// Result is the decision for one candidate path.
type Result struct {
	Outcome Outcome
	// Reason is set for quarantined candidates.
	Reason string
	// Path is the file's final location: the canonical path for upserted
	// and unchanged candidates, the quarantine path for rejects that were
	// physically moved.
	Path string
}

// Worker ingests candidate paths. It is deterministic given its inputs:
// it never reads snapshots and never touches exporters.
type Worker struct {
	store  *pkgstore.Store
	prober probe.Prober
	repo   *catalogdb.Repository
}

// NewWorker wires an ingest worker.
func NewWorker(store *pkgstore.Store, prober probe.Prober, repo *catalogdb.Repository) *Worker {
	return &Worker{store: store, prober: prober, repo: repo}
}

// Ingest processes one candidate. It never returns an error: every
// failure mode collapses into a quarantine result so the pool keeps
// draining.
func (w *Worker) Ingest(ctx context.Context, path string) Result {
	size, mtimeNS, err := w.store.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("Candidate vanished before ingest: %s", path)
			return Result{Outcome: OutcomeQuarantined, Reason: ReasonVanished}
		}
		log.Errorf("Stat %s: %v", path, err)
		return w.quarantine(path, ReasonWorkerError)
	}

	probed, err := w.prober.Probe(ctx, path)
	if err != nil {
		reason := probe.KindOf(err).QuarantineReason()
		log.Warnf("Probe rejected %s: %v", path, err)
		return w.quarantine(path, reason)
	}

	fields := probed.SFO.Fields
	category := fields["CATEGORY"]
	appType := catalog.AppTypeForCategory(category)
	version := fields["APP_VER"]
	if version == "" {
		version = fields["VERSION"]
	}

	fp, err := fingerprint.File(path, size, mtimeNS)
	if err != nil {
		log.Errorf("Fingerprint %s: %v", path, err)
		return w.quarantine(path, ReasonWorkerError)
	}

	canonical, err := w.store.MoveToCanonical(path, appType, probed.ContentID)
	if errors.Is(err, pkgstore.ErrConflict) {
		return w.resolveConflict(path, appType, probed.ContentID, fp)
	}
	if err != nil {
		log.Errorf("Canonical move %s: %v", path, err)
		return w.quarantine(path, ReasonWorkerError)
	}

	item := &catalog.Item{
		ContentID:      probed.ContentID,
		TitleID:        fields["TITLE_ID"],
		Title:          fields["TITLE"],
		AppType:        appType,
		Category:       category,
		Version:        version,
		PubToolInfo:    fields["PUBTOOLINFO"],
		SystemVer:      fields["SYSTEM_VER"],
		ReleaseDate:    catalog.ReleaseDateFromPubToolInfo(fields["PUBTOOLINFO"]),
		PkgPath:        canonical,
		PkgSize:        size,
		PkgMtimeNS:     mtimeNS,
		PkgFingerprint: fp,
		Icon0Path:      probed.Icon0Path,
		Pic0Path:       probed.Pic0Path,
		Pic1Path:       probed.Pic1Path,
		SFO:            probed.SFO,
	}

	outcome, err := w.commit(ctx, item)
	if err != nil {
		// The canonical file without a row would never be revisited, so the
		// file follows the failed row into quarantine.
		log.Errorf("Catalog upsert %s: %v", canonical, err)
		return w.quarantine(canonical, ReasonWorkerError)
	}
	if outcome == catalogdb.UpsertSkipped {
		return Result{Outcome: OutcomeUnchanged, Path: canonical}
	}
	return Result{Outcome: OutcomeUpserted, Path: canonical}
}

// commit runs the upsert in a fresh unit of work.
func (w *Worker) commit(ctx context.Context, item *catalog.Item) (catalogdb.UpsertOutcome, error) {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return catalogdb.UpsertSkipped, err
	}
	outcome, err := w.repo.Upsert(ctx, tx, item)
	if err != nil {
		tx.Rollback()
		return catalogdb.UpsertSkipped, err
	}
	if err := tx.Commit(); err != nil {
		return catalogdb.UpsertSkipped, err
	}
	return outcome, nil
}

// resolveConflict decides between duplicate and conflict when the
// canonical target already exists: same fingerprint means the candidate
// is a spare copy, different means somebody else owns the name.
func (w *Worker) resolveConflict(path string, appType catalog.AppType, contentID catalog.ContentID, candidateFP string) Result {
	existing := w.store.CanonicalPath(appType, contentID)
	size, mtimeNS, err := w.store.Stat(existing)
	if err != nil {
		log.Errorf("Stat canonical %s during conflict: %v", existing, err)
		return w.quarantine(path, ReasonConflict)
	}
	existingFP, err := fingerprint.File(existing, size, mtimeNS)
	if err != nil {
		log.Errorf("Fingerprint canonical %s during conflict: %v", existing, err)
		return w.quarantine(path, ReasonConflict)
	}
	if existingFP == candidateFP {
		return w.quarantine(path, ReasonDuplicate)
	}
	return w.quarantine(path, ReasonConflict)
}

func (w *Worker) quarantine(path, reason string) Result {
	quarantined, err := w.store.Quarantine(path, reason)
	if err != nil {
		log.Errorf("Quarantine %s (%s): %v", path, reason, err)
		return Result{Outcome: OutcomeQuarantined, Reason: reason}
	}
	log.Infof("Quarantined %s as %s", path, quarantined)
	return Result{Outcome: OutcomeQuarantined, Reason: reason, Path: quarantined}
}
