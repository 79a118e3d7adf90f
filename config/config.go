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

// Package config loads the process settings once at startup, from an
// INI settings file with environment variables taking precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/hb-store/homebrew-cdn/export"
	"github.com/hb-store/homebrew-cdn/log"
)

// Defaults for everything the settings file may omit.
const (
	DefaultServerIP           = "127.0.0.1"
	DefaultServerPort         = 18191
	DefaultScanSeconds        = 30
	DefaultWorkers            = 1
	DefaultPkgToolTimeoutSecs = 300
	DefaultLogLevel           = "info"
)

// Settings is the validated process configuration.
type Settings struct {
	ServerIP   string
	ServerPort int
	EnableTLS  bool
	LogLevel   string

	ScanSeconds    int
	CronExpression string
	Workers        int

	PkgToolTimeoutSeconds int

	// OutputTargets is the ordered set of enabled exporters.
	OutputTargets []string
}

// Paths maps the data directory layout. Everything the process touches
// on disk hangs off DataDir.
type Paths struct {
	DataDir string
}

// NewPaths roots the layout at dataDir.
func NewPaths(dataDir string) Paths {
	return Paths{DataDir: filepath.Clean(dataDir)}
}

func (p Paths) ShareDir() string      { return filepath.Join(p.DataDir, "share") }
func (p Paths) PkgRoot() string       { return filepath.Join(p.ShareDir(), "pkg") }
func (p Paths) FPKGiDir() string      { return filepath.Join(p.ShareDir(), "fpkgi") }
func (p Paths) StoreDBPath() string   { return filepath.Join(p.ShareDir(), "hb-store", "store.db") }
func (p Paths) InternalDir() string   { return filepath.Join(p.DataDir, "internal") }
func (p Paths) CatalogDir() string    { return filepath.Join(p.InternalDir(), "catalog") }
func (p Paths) CatalogDBPath() string { return filepath.Join(p.CatalogDir(), "catalog.db") }
func (p Paths) SnapshotPath() string  { return filepath.Join(p.CatalogDir(), "pkgs-snapshot.json") }
func (p Paths) LockPath() string      { return filepath.Join(p.CatalogDir(), "reconcile.lock") }
func (p Paths) CacheDir() string      { return filepath.Join(p.InternalDir(), "cache") }
func (p Paths) LogsDir() string       { return filepath.Join(p.InternalDir(), "logs") }
func (p Paths) ErrorsDir() string     { return filepath.Join(p.InternalDir(), "errors") }

// EnsureLayout creates the internal directories. The share-side layout
// is owned by the package store.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.CatalogDir(), p.CacheDir(), p.LogsDir(), p.ErrorsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads the settings file (absent is fine, defaults apply) and
// applies environment overrides, then validates.
func Load(settingsPath string) (*Settings, error) {
	s := &Settings{
		ServerIP:              DefaultServerIP,
		ServerPort:            DefaultServerPort,
		LogLevel:              DefaultLogLevel,
		ScanSeconds:           DefaultScanSeconds,
		Workers:               DefaultWorkers,
		PkgToolTimeoutSeconds: DefaultPkgToolTimeoutSecs,
		OutputTargets:         []string{export.TargetHBStore, export.TargetFPKGi},
	}

	if settingsPath != "" {
		if _, err := os.Stat(settingsPath); err == nil {
			file, err := ini.Load(settingsPath)
			if err != nil {
				return nil, fmt.Errorf("load settings %s: %w", settingsPath, err)
			}
			section := file.Section("")
			if err := s.applySource(func(name string) interface{ String() string } {
				return section.Key(name)
			}); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat settings %s: %w", settingsPath, err)
		} else {
			log.Debugf("Settings file %s absent, using defaults", settingsPath)
		}
	}

	if err := s.applySource(envKey); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// valueSource abstracts "give me the raw string for this key" over the
// INI section and the environment.
type valueSource func(name string) interface{ String() string }

type envValue string

func (v envValue) String() string { return string(v) }

func envKey(name string) interface{ String() string } {
	return envValue(os.Getenv(name))
}

func (s *Settings) applySource(key valueSource) error {
	if v := strings.TrimSpace(key("SERVER_IP").String()); v != "" {
		s.ServerIP = v
	}
	if v := strings.TrimSpace(key("SERVER_PORT").String()); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT %q: %w", v, err)
		}
		s.ServerPort = port
	}
	if v := strings.TrimSpace(key("ENABLE_TLS").String()); v != "" {
		enabled, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("ENABLE_TLS %q: %w", v, err)
		}
		s.EnableTLS = enabled
	}
	if v := strings.TrimSpace(key("LOG_LEVEL").String()); v != "" {
		s.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(key("WATCHER_PERIODIC_SCAN_SECONDS").String()); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WATCHER_PERIODIC_SCAN_SECONDS %q: %w", v, err)
		}
		s.ScanSeconds = secs
	}
	if v := strings.TrimSpace(key("WATCHER_CRON_EXPRESSION").String()); v != "" {
		s.CronExpression = v
	}
	if v := strings.TrimSpace(key("WATCHER_PKG_PREPROCESS_WORKERS").String()); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WATCHER_PKG_PREPROCESS_WORKERS %q: %w", v, err)
		}
		s.Workers = workers
	}
	if v := strings.TrimSpace(key("PKGTOOL_TIMEOUT_SECONDS").String()); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PKGTOOL_TIMEOUT_SECONDS %q: %w", v, err)
		}
		s.PkgToolTimeoutSeconds = secs
	}
	if v := strings.TrimSpace(key("OUTPUT_TARGETS").String()); v != "" {
		targets, err := parseTargets(v)
		if err != nil {
			return err
		}
		s.OutputTargets = targets
	}
	return nil
}

// parseTargets accepts a JSON list (`["hb-store"]`) or a plain
// comma-separated list (`hb-store,fpkgi`).
func parseTargets(raw string) ([]string, error) {
	var parts []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			return nil, fmt.Errorf("OUTPUT_TARGETS %q: %w", raw, err)
		}
	} else {
		for part := range strings.SplitSeq(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
	}

	seen := map[string]bool{}
	targets := make([]string, 0, len(parts))
	for _, part := range parts {
		target := strings.ToLower(strings.TrimSpace(part))
		switch target {
		case export.TargetHBStore, export.TargetFPKGi:
		default:
			return nil, fmt.Errorf("OUTPUT_TARGETS: unknown target %q", part)
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		targets = append(targets, target)
	}
	return targets, nil
}

func (s *Settings) validate() error {
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT %d out of range", s.ServerPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warning", "error":
	case "warn":
		s.LogLevel = "warning"
	default:
		return fmt.Errorf("LOG_LEVEL %q: must be one of debug, info, warning, error", s.LogLevel)
	}
	if s.ScanSeconds < 1 {
		return fmt.Errorf("WATCHER_PERIODIC_SCAN_SECONDS %d: minimum is 1", s.ScanSeconds)
	}
	if s.Workers < 1 {
		return fmt.Errorf("WATCHER_PKG_PREPROCESS_WORKERS %d: minimum is 1", s.Workers)
	}
	if s.PkgToolTimeoutSeconds < 1 {
		return fmt.Errorf("PKGTOOL_TIMEOUT_SECONDS %d: minimum is 1", s.PkgToolTimeoutSeconds)
	}
	return nil
}

// BaseURL is the public URL prefix exported outputs embed. Default
// scheme ports are elided.
func (s *Settings) BaseURL() string {
	scheme, defaultPort := "http", 80
	if s.EnableTLS {
		scheme, defaultPort = "https", 443
	}
	if s.ServerPort == defaultPort {
		return scheme + "://" + s.ServerIP
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.ServerIP, s.ServerPort)
}

// Addr is the host:port the HTTP API binds.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.ServerIP, s.ServerPort)
}
