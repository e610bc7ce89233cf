// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for tagledger components.
//
// The package is a thin layer over the standard library slog package.
// Every component takes a *slog.Logger (or derives one via Component)
// rather than logging through package-level state, so tests can run
// isolated instances with their own sinks.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "tagengine"})
//	logger.Info("index rebuilt", "scope", scope, "tags", n)
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - Debug: development troubleshooting, verbose output
//   - Info: normal operations (rebuilds, persists, state changes)
//   - Warn: recoverable issues (retry attempts, fallback used)
//   - Error: operation failures (but the process continues)
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for potentially problematic situations.
	LevelWarn

	// LevelError is for error conditions.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures logger construction.
//
// A zero-value Config produces an Info-level text logger on stderr.
type Config struct {
	// Level sets the minimum log level. Messages below it are discarded.
	Level Level

	// Service identifies the component generating logs. When set it is
	// attached to every entry as the "service" attribute.
	Service string

	// JSON enables JSON output instead of human-readable text.
	JSON bool

	// Writer overrides the output destination. Defaults to stderr.
	// Tests typically pass a bytes.Buffer here.
	Writer io.Writer
}

// New creates a *slog.Logger from the given config.
//
// Outputs:
//
//	*slog.Logger - Ready-to-use structured logger.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns an Info-level stderr logger with no service attribute.
func Default() *slog.Logger {
	return New(Config{})
}

// Component derives a child logger scoped to one component.
//
// Example:
//
//	log := logging.Component(logger, "store.Manager")
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}
