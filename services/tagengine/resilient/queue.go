// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/tagledger/pkg/clock"
	"github.com/AleutianAI/tagledger/pkg/logging"
)

// QueueStorage is the minimal persisted-list contract the offline
// queue needs. Any durable local storage satisfies it; tests use the
// in-memory implementation.
type QueueStorage interface {
	Append(ctx context.Context, item []byte) error
	ReadAll(ctx context.Context) ([][]byte, error)
	Overwrite(ctx context.Context, items [][]byte) error
}

// MemoryQueueStorage is an in-memory QueueStorage.
//
// Thread Safety: safe for concurrent use.
type MemoryQueueStorage struct {
	mu    sync.Mutex
	items [][]byte
}

// NewMemoryQueueStorage returns an empty in-memory queue storage.
func NewMemoryQueueStorage() *MemoryQueueStorage {
	return &MemoryQueueStorage{}
}

func (s *MemoryQueueStorage) Append(_ context.Context, item []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(item))
	copy(cp, item)
	s.items = append(s.items, cp)
	return nil
}

func (s *MemoryQueueStorage) ReadAll(_ context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.items))
	for i, item := range s.items {
		cp := make([]byte, len(item))
		copy(cp, item)
		out[i] = cp
	}
	return out, nil
}

func (s *MemoryQueueStorage) Overwrite(_ context.Context, items [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([][]byte, len(items))
	for i, item := range items {
		cp := make([]byte, len(item))
		copy(cp, item)
		s.items[i] = cp
	}
	return nil
}

var _ QueueStorage = (*MemoryQueueStorage)(nil)

// QueuedOperation is one deferred mutation awaiting connectivity.
type QueuedOperation struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Scope     string    `json:"scope,omitempty"`
	RecordID  string    `json:"recordId,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	QueuedAt  time.Time `json:"queuedAt"`
	Attempts  int       `json:"attempts"`
}

// ReplayFunc replays one queued operation. A nil error removes the
// item from the queue; any error keeps it for the next drain.
type ReplayFunc func(ctx context.Context, op QueuedOperation) error

// ProcessResult summarizes one queue drain.
type ProcessResult struct {
	Processed int
	Succeeded int
	Remaining int
}

// SyncQueue is the durable offline queue. Items are replayed in FIFO
// order; only successes are removed and the relative order of the
// remainder is preserved.
//
// Thread Safety: safe for concurrent use; drains are serialized.
type SyncQueue struct {
	mu      sync.Mutex
	storage QueueStorage
	clock   clock.Clock
	logger  *slog.Logger
}

// NewSyncQueue creates a queue over the given storage.
func NewSyncQueue(storage QueueStorage, clk clock.Clock, logger *slog.Logger) *SyncQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &SyncQueue{
		storage: storage,
		clock:   clk,
		logger:  logging.Component(logger, "resilient.SyncQueue"),
	}
}

// Enqueue appends an operation to the durable queue.
func (q *SyncQueue) Enqueue(ctx context.Context, op QueuedOperation) error {
	if op.QueuedAt.IsZero() {
		op.QueuedAt = q.clock.Now()
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding queued operation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.storage.Append(ctx, data); err != nil {
		return fmt.Errorf("appending to offline queue: %w", err)
	}
	q.logger.Info("operation queued for sync", "operation", op.Operation, "id", op.ID)
	return nil
}

// Pending returns the queued operations in order without draining.
func (q *SyncQueue) Pending(ctx context.Context) ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked(ctx)
}

func (q *SyncQueue) readLocked(ctx context.Context) ([]QueuedOperation, error) {
	items, err := q.storage.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading offline queue: %w", err)
	}
	ops := make([]QueuedOperation, 0, len(items))
	for _, item := range items {
		var op QueuedOperation
		if err := json.Unmarshal(item, &op); err != nil {
			// A corrupted item cannot be replayed; drop it rather
			// than wedging the queue.
			q.logger.Warn("dropping corrupted queue item", "error", err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Process drains the queue through replay. Successfully replayed
// items are removed; failures stay queued (with their attempt count
// bumped) in their original relative order.
func (q *SyncQueue) Process(ctx context.Context, replay ReplayFunc) (ProcessResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.readLocked(ctx)
	if err != nil {
		return ProcessResult{}, err
	}

	var remaining [][]byte
	result := ProcessResult{Processed: len(ops)}
	for _, op := range ops {
		if err := replay(ctx, op); err != nil {
			op.Attempts++
			q.logger.Warn("queued operation replay failed",
				"operation", op.Operation,
				"id", op.ID,
				"attempts", op.Attempts,
				"error", err,
			)
			data, merr := json.Marshal(op)
			if merr != nil {
				return result, fmt.Errorf("re-encoding queued operation: %w", merr)
			}
			remaining = append(remaining, data)
			continue
		}
		result.Succeeded++
	}

	if err := q.storage.Overwrite(ctx, remaining); err != nil {
		return result, fmt.Errorf("rewriting offline queue: %w", err)
	}
	result.Remaining = len(remaining)

	if result.Processed > 0 {
		q.logger.Info("sync queue drained",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"remaining", result.Remaining,
		)
	}
	return result, nil
}
