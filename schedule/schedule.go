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

// Package schedule runs the reconcile cycle on a fixed interval or a
// classic 5-field cron expression.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hb-store/homebrew-cdn/log"
)

// Scheduler fires a job periodically, refusing overlap: a fire that
// lands while the previous run is still going is skipped, not queued.
type Scheduler struct {
	cron *cron.Cron
}

// New builds a scheduler for the job. A non-empty cronExpr (5-field)
// takes precedence over the interval.
func New(cronExpr string, interval time.Duration, job func()) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("scheduler interval %s below 1s minimum", interval)
	}

	logger := cronLogger{}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))

	if cronExpr != "" {
		if _, err := c.AddFunc(cronExpr, job); err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", cronExpr, err)
		}
	} else {
		c.Schedule(cron.Every(interval), cron.FuncJob(job))
	}
	return &Scheduler{cron: c}, nil
}

// Start begins firing. Returns immediately.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents further fires without waiting for an in-flight run.
func (s *Scheduler) Stop() { s.cron.Stop() }

// cronLogger routes the cron library's messages into our logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debugf("scheduler: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Errorf("scheduler: %s: %v %v", msg, err, keysAndValues)
}
