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

// Package probe extracts PARAM.SFO metadata and media assets from PKG
// files through the external pkgtool binary.
package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hb-store/homebrew-cdn/catalog"
)

// Result is the outcome of probing one PKG file.
type Result struct {
	// ContentID parsed from the SFO CONTENT_ID field.
	ContentID catalog.ContentID
	// SFO is the decoded PARAM.SFO snapshot.
	SFO catalog.SFOSnapshot
	// Paths of extracted media assets inside the media directory.
	// Empty when the PKG doesn't carry the asset.
	Icon0Path string
	Pic0Path  string
	Pic1Path  string
}

// Prober is the port consumed by the ingest worker.
type Prober interface {
	Probe(ctx context.Context, pkgPath string) (*Result, error)
}

// ErrorKind classifies probe failures; each kind maps to a quarantine
// reason.
type ErrorKind int

// The probe failure kinds.
const (
	// KindProbeFailed covers tool invocation failures and non-zero exits.
	KindProbeFailed ErrorKind = iota
	// KindSFOMissing means the tool ran but the PKG has no PARAM.SFO entry.
	KindSFOMissing
	// KindInvalidMetadata means required SFO fields are missing or malformed.
	KindInvalidMetadata
	// KindTimeout means the tool exceeded the per-probe deadline.
	KindTimeout
)

// QuarantineReason returns the quarantine file name tag for this kind.
func (k ErrorKind) QuarantineReason() string {
	switch k {
	case KindSFOMissing:
		return "sfo_missing"
	case KindInvalidMetadata:
		return "invalid_metadata"
	case KindTimeout:
		return "probe_timeout"
	default:
		return "probe_failed"
	}
}

// Error is a structured probe failure.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Kind.QuarantineReason(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from a probe error, defaulting to
// KindProbeFailed for errors raised outside this package.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProbeFailed
}
