// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
)

// BadgerConfig holds configuration for the embedded document store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns sensible defaults for production use.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns configuration optimized for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements DocumentStore on an embedded BadgerDB.
//
// Documents are keyed "<scope>/<key>". Change subscriptions use
// BadgerDB's native Subscribe on the exact key prefix.
//
// Thread Safety: BadgerStore is safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger creates and opens the document store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for persistent mode")
		}
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving badger path: %w", err)
		}
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return nil, fmt.Errorf("creating badger directory: %w", err)
		}
		opts = badger.DefaultOptions(abs).WithSyncWrites(cfg.SyncWrites)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(scope, key string) []byte {
	return []byte(scope + "/" + key)
}

// Get returns the stored document or ErrNotFound.
func (s *BadgerStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(scope, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s/%s: %w", scope, key, err)
	}
	return out, nil
}

// Set writes the document, applying merge-patch semantics when merge
// is true. The read-merge-write runs inside a single transaction.
func (s *BadgerStore) Set(_ context.Context, scope, key string, value []byte, merge bool) error {
	k := badgerKey(scope, key)
	err := s.db.Update(func(txn *badger.Txn) error {
		next := value
		if merge {
			var existing []byte
			item, err := txn.Get(k)
			switch {
			case err == nil:
				existing, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				// First write for this key.
			default:
				return err
			}
			merged, err := MergePatch(existing, value)
			if err != nil {
				return err
			}
			next = merged
		}
		return txn.Set(k, next)
	})
	if err != nil {
		return fmt.Errorf("writing document %s/%s: %w", scope, key, err)
	}
	return nil
}

// Subscribe delivers the current document (if any) and then every
// subsequent write for the key until cancel is called or ctx is done.
func (s *BadgerStore) Subscribe(ctx context.Context, scope, key string, fn func([]byte)) (func(), error) {
	current, err := s.Get(ctx, scope, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil {
		fn(current)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		match := []pb.Match{{Prefix: badgerKey(scope, key)}}
		// Subscribe blocks until subCtx is done.
		_ = s.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				value := make([]byte, len(kv.Value))
				copy(value, kv.Value)
				fn(value)
			}
			return nil
		}, match)
	}()
	return cancel, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ DocumentStore = (*BadgerStore)(nil)
