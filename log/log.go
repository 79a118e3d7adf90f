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

// Package log defines the service's logger interface. By default it uses the
// Go logger with a configurable minimum level but it can be replaced with
// user-defined loggers.
package log

import (
	"fmt"
	"log"
	"strings"
)

// Level is the minimum severity a message needs to be written.
type Level int

// Log levels in increasing order of severity.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel converts a level name from the LOG_LEVEL setting into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Logger is the logging interface used throughout the service.
type Logger interface {
	// Logs in different log levels, either formatted or unformatted.
	Errorf(format string, args ...any)
	Error(args ...any)
	Warnf(format string, args ...any)
	Warn(args ...any)
	Infof(format string, args ...any)
	Info(args ...any)
	Debugf(format string, args ...any)
	Debug(args ...any)
}

var logger Logger = &DefaultLogger{MinLevel: InfoLevel}

// SetLogger overwrites the default logger with a user specified one.
func SetLogger(l Logger) { logger = l }

// Errorf is the static formatted error logging function.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Warnf is the static formatted warning logging function.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Infof is the static formatted info logging function.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Debugf is the static formatted debug logging function.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Error is the static error logging function.
func Error(args ...any) {
	logger.Error(args...)
}

// Warn is the static warning logging function.
func Warn(args ...any) {
	logger.Warn(args...)
}

// Info is the static info logging function.
func Info(args ...any) {
	logger.Info(args...)
}

// Debug is the static debug logging function.
func Debug(args ...any) {
	logger.Debug(args...)
}

// DefaultLogger is the Logger implementation used by default.
// It logs to stderr using the default Go logger, dropping messages
// below MinLevel.
type DefaultLogger struct {
	MinLevel Level
}

func (l *DefaultLogger) logf(level Level, prefix, format string, args ...any) {
	if level < l.MinLevel {
		return
	}
	log.Printf(prefix+format, args...)
}

func (l *DefaultLogger) log(level Level, prefix string, args ...any) {
	if level < l.MinLevel {
		return
	}
	log.Println(append([]any{prefix}, args...)...)
}

// Errorf is the formatted error logging function.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.logf(ErrorLevel, "ERROR: ", format, args...)
}

// Warnf is the formatted warning logging function.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.logf(WarnLevel, "WARN: ", format, args...)
}

// Infof is the formatted info logging function.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.logf(InfoLevel, "INFO: ", format, args...)
}

// Debugf is the formatted debug logging function.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.logf(DebugLevel, "DEBUG: ", format, args...)
}

// Error is the error logging function.
func (l *DefaultLogger) Error(args ...any) {
	l.log(ErrorLevel, "ERROR:", args...)
}

// Warn is the warning logging function.
func (l *DefaultLogger) Warn(args ...any) {
	l.log(WarnLevel, "WARN:", args...)
}

// Info is the info logging function.
func (l *DefaultLogger) Info(args ...any) {
	l.log(InfoLevel, "INFO:", args...)
}

// Debug is the debug logging function.
func (l *DefaultLogger) Debug(args ...any) {
	l.log(DebugLevel, "DEBUG:", args...)
}
