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

package schedule_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hb-store/homebrew-cdn/schedule"
)

func TestNewRejectsSubSecondInterval(t *testing.T) {
	if _, err := schedule.New("", 500*time.Millisecond, func() {}); err == nil {
		t.Error("New with 500ms interval: want error, got nil")
	}
}

func TestNewRejectsBadCronExpression(t *testing.T) {
	if _, err := schedule.New("not a cron", time.Minute, func() {}); err == nil {
		t.Error("New with malformed cron expression: want error, got nil")
	}
}

func TestNewAcceptsFiveFieldCron(t *testing.T) {
	s, err := schedule.New("*/5 * * * *", time.Minute, func() {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Stop()
}

func TestIntervalFires(t *testing.T) {
	var fires atomic.Int64
	s, err := schedule.New("", time.Second, func() { fires.Add(1) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.After(5 * time.Second)
	for fires.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired within 5s at a 1s interval")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestOverlapSkipped(t *testing.T) {
	block := make(chan struct{})
	var running atomic.Int64
	var maxConcurrent atomic.Int64
	s, err := schedule.New("", time.Second, func() {
		now := running.Add(1)
		if now > maxConcurrent.Load() {
			maxConcurrent.Store(now)
		}
		<-block
		running.Add(-1)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	// Let several fire points pass while the first run blocks.
	time.Sleep(2500 * time.Millisecond)
	close(block)
	s.Stop()

	if got := maxConcurrent.Load(); got > 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}
