// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trade defines the record boundary of the tag engine.
//
// The engine only ever reads trades. Mutations are expressed as change
// deltas for the owning service to apply; see the mutate package.
package trade

import (
	"context"
	"time"
)

// ID identifies a trade record within a user scope.
type ID string

// Trade is the slice of the trade domain model the tag engine touches:
// identity, execution time, realized P&L, and the tag list. The list is
// semantically a set with stable order; membership is unique after
// normalization.
type Trade struct {
	ID         ID        `json:"id"`
	ExecutedAt time.Time `json:"executedAt"`
	PnL        float64   `json:"pnl"`

	// Tags may be nil (never tagged) or empty.
	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the trade carries the exact tag value.
func (t Trade) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// CloneTags returns a copy of the tag list, nil-preserving.
func (t Trade) CloneTags() []string {
	if t.Tags == nil {
		return nil
	}
	out := make([]string, len(t.Tags))
	copy(out, t.Tags)
	return out
}

// Provider supplies the current record set for a scope. Implementations
// live outside the engine (document store, API client, fixture data).
type Provider interface {
	// Trades returns the authoritative record set for the scope.
	Trades(ctx context.Context, scope string) ([]Trade, error)
}

// SliceProvider adapts an in-memory record set to Provider. Used by
// tests and the CLI import path.
type SliceProvider map[string][]Trade

// Trades returns the configured record set for the scope; an unknown
// scope yields an empty set, not an error.
func (p SliceProvider) Trades(_ context.Context, scope string) ([]Trade, error) {
	return p[scope], nil
}
