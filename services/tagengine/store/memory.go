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
	"sync"
)

// MemoryStore is an in-memory DocumentStore for tests and ephemeral
// runs. It honors the same merge and subscription semantics as the
// durable implementations.
//
// Thread Safety: MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	subs   map[string]map[int]func([]byte)
	nextID int
	closed bool

	// FailSets, when positive, makes that many subsequent Set calls
	// fail with the given error. Used to exercise fallback paths.
	FailSets int
	SetErr   error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]func([]byte)),
	}
}

func memKey(scope, key string) string {
	return scope + "/" + key
}

// Get returns the stored document or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	doc, ok := s.docs[memKey(scope, key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Set stores the document, applying merge-patch semantics when merge
// is true, and notifies subscribers.
func (s *MemoryStore) Set(_ context.Context, scope, key string, value []byte, merge bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.FailSets > 0 {
		s.FailSets--
		err := s.SetErr
		s.mu.Unlock()
		return err
	}

	k := memKey(scope, key)
	next := value
	if merge {
		merged, err := MergePatch(s.docs[k], value)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		next = merged
	}
	s.docs[k] = next

	var fns []func([]byte)
	for _, fn := range s.subs[k] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// Notify outside the lock so callbacks may re-enter the store.
	for _, fn := range fns {
		fn(next)
	}
	return nil
}

// Subscribe registers fn and delivers the current document first.
func (s *MemoryStore) Subscribe(_ context.Context, scope, key string, fn func([]byte)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}

	k := memKey(scope, key)
	id := s.nextID
	s.nextID++
	if s.subs[k] == nil {
		s.subs[k] = make(map[int]func([]byte))
	}
	s.subs[k][id] = fn
	current, exists := s.docs[k]
	s.mu.Unlock()

	if exists {
		fn(current)
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[k], id)
	}
	return cancel, nil
}

// Close rejects all further operations.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ DocumentStore = (*MemoryStore)(nil)
