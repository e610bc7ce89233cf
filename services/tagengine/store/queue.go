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
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	queuePrefix = "syncq/"
	queueSeqKey = "syncq-seq"
)

// BadgerQueue is durable FIFO list storage for the offline sync queue,
// sharing the engine's BadgerDB. Items are keyed by a monotonically
// increasing sequence number, zero-padded so byte order is insert
// order.
//
// Thread Safety: BadgerQueue is safe for concurrent use.
type BadgerQueue struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerQueue creates queue storage on an open BadgerStore.
// Caller must Close the queue before closing the store.
func NewBadgerQueue(s *BadgerStore) (*BadgerQueue, error) {
	seq, err := s.db.GetSequence([]byte(queueSeqKey), 64)
	if err != nil {
		return nil, fmt.Errorf("opening queue sequence: %w", err)
	}
	return &BadgerQueue{db: s.db, seq: seq}, nil
}

func queueKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", queuePrefix, n))
}

// Append adds one encoded item to the tail of the queue.
func (q *BadgerQueue) Append(_ context.Context, item []byte) error {
	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("advancing queue sequence: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(n), item)
	})
	if err != nil {
		return fmt.Errorf("appending queue item: %w", err)
	}
	return nil
}

// ReadAll returns every queued item in insert order.
func (q *BadgerQueue) ReadAll(_ context.Context) ([][]byte, error) {
	var out [][]byte
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queuePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading queue items: %w", err)
	}
	return out, nil
}

// Overwrite replaces the queue contents with items, preserving their
// given order.
func (q *BadgerQueue) Overwrite(ctx context.Context, items [][]byte) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queuePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing queue items: %w", err)
	}
	for _, item := range items {
		if err := q.Append(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the sequence, returning unused numbers.
func (q *BadgerQueue) Close() error {
	return q.seq.Release()
}
