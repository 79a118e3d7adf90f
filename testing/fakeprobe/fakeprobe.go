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

// Package fakeprobe provides a Prober implementation for tests.
package fakeprobe

import (
	"context"
	"fmt"
	"sync"

	"github.com/hb-store/homebrew-cdn/catalog"
	"github.com/hb-store/homebrew-cdn/probe"
)

// Fake is a Prober returning canned results keyed by path.
type Fake struct {
	mu sync.Mutex
	// ResultsByPath maps a PKG path to its probe result.
	ResultsByPath map[string]*probe.Result
	// ErrsByPath maps a PKG path to a probe error.
	ErrsByPath map[string]error
	// Calls records the probed paths in order.
	Calls []string
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		ResultsByPath: map[string]*probe.Result{},
		ErrsByPath:    map[string]error{},
	}
}

// Probe returns the canned result or error for the path.
func (f *Fake) Probe(_ context.Context, pkgPath string) (*probe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, pkgPath)
	if err, ok := f.ErrsByPath[pkgPath]; ok {
		return nil, err
	}
	if result, ok := f.ResultsByPath[pkgPath]; ok {
		return result, nil
	}
	return nil, &probe.Error{Kind: probe.KindProbeFailed, Path: pkgPath, Err: fmt.Errorf("no canned result")}
}

// SetResult registers a canned result built from SFO fields.
func (f *Fake) SetResult(pkgPath string, fields map[string]string) *probe.Result {
	contentID, err := catalog.ParseContentID(fields["CONTENT_ID"])
	if err != nil {
		panic(fmt.Sprintf("fakeprobe.SetResult: %v", err))
	}
	result := &probe.Result{
		ContentID: contentID,
		SFO:       catalog.NewSFOSnapshot(fields, []byte("\x00PSF"+fields["CONTENT_ID"])),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResultsByPath[pkgPath] = result
	return result
}

// SetErr registers a probe failure of the given kind.
func (f *Fake) SetErr(pkgPath string, kind probe.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ErrsByPath[pkgPath] = &probe.Error{Kind: kind, Path: pkgPath, Err: fmt.Errorf("canned failure")}
}
