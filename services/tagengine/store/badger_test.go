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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	_, err := s.Get(ctx, "u1", IndexDocument)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"a":1}`), false))
	got, err := s.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestBadgerStoreMergeWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"entries":{"#a":{"count":1}}}`), false))
	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"entries":{"#b":{"count":2},"#a":null}}`), true))

	got, err := s.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":{"#b":{"count":2}}}`, string(got))
}

func TestBadgerStoreMergeOnMissingKey(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"a":1,"gone":null}`), true))
	got, err := s.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestBadgerStoreScopesIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"who":"u1"}`), false))
	_, err := s.Get(ctx, "u2", IndexDocument)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreSubscribe(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	s := openTestBadger(t)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":1}`), false))

	var mu sync.Mutex
	var seen [][]byte
	cancel, err := s.Subscribe(ctx, "u1", IndexDocument, func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, data)
	})
	require.NoError(t, err)
	defer cancel()

	// Initial state is delivered synchronously.
	mu.Lock()
	require.Len(t, seen, 1)
	mu.Unlock()

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":2}`), false))

	// Badger delivers subscription events asynchronously.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":1}`), false))
	require.NoError(t, s.Close())

	s2, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))
}
