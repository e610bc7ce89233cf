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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		patch    string
		want     string
	}{
		{
			"objects merge recursively",
			`{"entries":{"#a":{"count":1},"#b":{"count":2}}}`,
			`{"entries":{"#a":{"count":3}}}`,
			`{"entries":{"#a":{"count":3},"#b":{"count":2}}}`,
		},
		{
			"null deletes",
			`{"entries":{"#a":{"count":1},"#b":{"count":2}}}`,
			`{"entries":{"#b":null}}`,
			`{"entries":{"#a":{"count":1}}}`,
		},
		{
			"arrays replace wholesale",
			`{"ids":["a","b"]}`,
			`{"ids":["c"]}`,
			`{"ids":["c"]}`,
		},
		{
			"nil existing yields patch minus nulls",
			"",
			`{"a":1,"b":null}`,
			`{"a":1}`,
		},
		{
			"scalar patch replaces object",
			`{"a":{"x":1}}`,
			`{"a":7}`,
			`{"a":7}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var existing []byte
			if tt.existing != "" {
				existing = []byte(tt.existing)
			}
			got, err := MergePatch(existing, []byte(tt.patch))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestMergePatchRejectsInvalidJSON(t *testing.T) {
	_, err := MergePatch([]byte(`{}`), []byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeDocumentDefaultsEntries(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"metadata":{"version":3}}`))
	require.NoError(t, err)
	assert.NotNil(t, doc.Entries)
	assert.Equal(t, 3, doc.Metadata.Version)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "u1", IndexDocument)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"a":1}`), false))
	got, err := s.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	// Merge preserves untouched keys.
	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"b":2}`), true))
	got, err = s.Get(ctx, "u1", IndexDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(got))

	// Scopes are isolated.
	_, err = s.Get(ctx, "u2", IndexDocument)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":1}`), false))

	var seen []map[string]any
	cancel, err := s.Subscribe(ctx, "u1", IndexDocument, func(data []byte) {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc))
		seen = append(seen, doc)
	})
	require.NoError(t, err)

	// Initial state delivered immediately.
	require.Len(t, seen, 1)
	assert.Equal(t, float64(1), seen[0]["v"])

	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":2}`), false))
	require.Len(t, seen, 2)

	cancel()
	require.NoError(t, s.Set(ctx, "u1", IndexDocument, []byte(`{"v":3}`), false))
	assert.Len(t, seen, 2, "no deliveries after cancel")
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "u1", IndexDocument)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Set(ctx, "u1", IndexDocument, nil, false), ErrStoreClosed)
}
