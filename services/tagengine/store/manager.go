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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/tagledger/pkg/clock"
	"github.com/AleutianAI/tagledger/pkg/logging"
	"github.com/AleutianAI/tagledger/services/tagengine/index"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

// ScopeState is the lifecycle of a scope's cached index.
type ScopeState int

const (
	// StateUnloaded means no cached index exists for the scope yet.
	StateUnloaded ScopeState = iota

	// StateLoaded means the cache mirrors the last successful persist.
	StateLoaded

	// StateStale means the cache may diverge from the durable store
	// (a persist failed); the next read must reload or rebuild.
	StateStale
)

// String returns "unloaded", "loaded", "stale", or "unknown".
func (s ScopeState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// errNoCachedIndex aborts an incremental update so the caller falls
// back to a full rebuild.
var errNoCachedIndex = errors.New("no cached or persisted index for scope")

// DefaultSuggestionTTL bounds staleness of the suggestion ranking
// cache. Expiry is time-boxed rather than invalidated explicitly.
const DefaultSuggestionTTL = 5 * time.Minute

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store is the durable document store. Required.
	Store DocumentStore

	// Clock is the time source. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives structured operational logs.
	Logger *slog.Logger

	// SuggestionTTL overrides DefaultSuggestionTTL.
	SuggestionTTL time.Duration
}

// Manager owns the per-scope index caches and every durable index
// operation: build, load, incremental maintenance, orphan cleanup,
// integrity validation, import/export, and change subscription.
//
// # Thread Safety
//
// All mutating operations on one scope are serialized by a per-scope
// mutex; concurrent interleaved read-modify-write on the cached index
// is a lost-update hazard, so queuing is enforced here rather than
// left to callers. Reads return deep clones and may run concurrently.
type Manager struct {
	store         DocumentStore
	clock         clock.Clock
	logger        *slog.Logger
	suggestionTTL time.Duration

	mu     sync.Mutex
	scopes map[string]*scopeCache
	flight singleflight.Group
}

type scopeCache struct {
	mu    sync.Mutex
	state ScopeState
	idx   index.Index

	// version increments on every successful persist and is written
	// into the document metadata.
	version int

	suggestions   []index.RankedTag
	suggestionsAt time.Time
}

// NewManager creates a persistence manager over the given store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("manager requires a document store")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SuggestionTTL <= 0 {
		cfg.SuggestionTTL = DefaultSuggestionTTL
	}
	return &Manager{
		store:         cfg.Store,
		clock:         cfg.Clock,
		logger:        logging.Component(cfg.Logger, "store.Manager"),
		suggestionTTL: cfg.SuggestionTTL,
		scopes:        make(map[string]*scopeCache),
	}, nil
}

func (m *Manager) scope(scope string) *scopeCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scopes[scope]
	if !ok {
		sc = &scopeCache{}
		m.scopes[scope] = sc
	}
	return sc
}

// State reports the lifecycle state of a scope's cache.
func (m *Manager) State(scope string) ScopeState {
	sc := m.scope(scope)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

func (m *Manager) metadata(idx index.Index, version int) Metadata {
	return Metadata{
		LastUpdated:  m.clock.Now(),
		TotalRecords: idx.TotalRecords(),
		TotalTags:    len(idx),
		Version:      version,
	}
}

// persistLocked writes the index (with optional entry removals) and,
// on success only, installs it as the scope cache. The scope mutex
// must be held.
func (m *Manager) persistLocked(ctx context.Context, scope string, sc *scopeCache, idx index.Index, removed []string, merge bool) error {
	data, err := encodeDocument(idx, m.metadata(idx, sc.version+1), removed)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, scope, IndexDocument, data, merge); err != nil {
		if sc.state == StateLoaded {
			sc.state = StateStale
		}
		return err
	}
	sc.idx = idx
	sc.state = StateLoaded
	sc.version++
	sc.suggestions = nil
	return nil
}

// BuildAndPersist rebuilds the index from a full record scan and
// writes it to the durable store.
//
// Inputs:
//
//	scope - User scope owning the index.
//	trades - The authoritative record set.
//	forceRebuild - When true the document is overwritten; otherwise a
//	    merge-write preserves entries this build did not touch.
//
// Outputs:
//
//	index.Index - A clone of the freshly persisted index.
//	error - Non-nil if the durable write failed; the cache is only
//	    updated on success.
func (m *Manager) BuildAndPersist(ctx context.Context, scope string, trades []trade.Trade, forceRebuild bool) (index.Index, error) {
	sc := m.scope(scope)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	idx := index.Build(trades)
	if err := m.persistLocked(ctx, scope, sc, idx, nil, !forceRebuild); err != nil {
		return nil, fmt.Errorf("persisting index for scope %s: %w", scope, err)
	}

	m.logger.Info("index persisted",
		"scope", scope,
		"tags", len(idx),
		"records", idx.TotalRecords(),
		"forced", forceRebuild,
	)
	return idx.Clone(), nil
}

// Load returns the scope's index, reading from the durable store on a
// cache miss. Absence is reported via found=false, not an error.
// Concurrent loads for the same scope share a single store read.
func (m *Manager) Load(ctx context.Context, scope string) (idx index.Index, found bool, err error) {
	sc := m.scope(scope)
	sc.mu.Lock()
	if sc.state == StateLoaded {
		defer sc.mu.Unlock()
		return sc.idx.Clone(), true, nil
	}
	sc.mu.Unlock()

	v, err, _ := m.flight.Do(scope, func() (any, error) {
		data, err := m.store.Get(ctx, scope, IndexDocument)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return DecodeDocument(data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading index for scope %s: %w", scope, err)
	}
	if v == nil {
		return nil, false, nil
	}
	doc := v.(*Document)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state != StateLoaded {
		sc.idx = doc.Index()
		sc.state = StateLoaded
		sc.version = doc.Metadata.Version
	}
	return sc.idx.Clone(), true, nil
}

// IncrementalUpdate refreshes the index for the given changed record
// ids only: their old references are removed, their current tags are
// re-added, first-seen tags gain entries, zero-count entries are
// dropped, and statistics are recomputed only for touched tags.
//
// Incremental correctness is an optimization, not a guarantee: on any
// failure the manager falls back to a full rebuild and overwrite.
func (m *Manager) IncrementalUpdate(ctx context.Context, scope string, allTrades []trade.Trade, changedIDs []trade.ID) (index.Index, error) {
	sc := m.scope(scope)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	idx, err := m.applyIncrementalLocked(ctx, scope, sc, allTrades, changedIDs)
	if err == nil {
		return idx, nil
	}

	m.logger.Warn("incremental update failed, rebuilding index",
		"scope", scope,
		"changed", len(changedIDs),
		"error", err,
	)
	rebuilt := index.Build(allTrades)
	if perr := m.persistLocked(ctx, scope, sc, rebuilt, nil, false); perr != nil {
		return nil, fmt.Errorf("rebuild fallback for scope %s: %w", scope, perr)
	}
	return rebuilt.Clone(), nil
}

func (m *Manager) applyIncrementalLocked(ctx context.Context, scope string, sc *scopeCache, allTrades []trade.Trade, changedIDs []trade.ID) (index.Index, error) {
	if sc.state != StateLoaded {
		data, err := m.store.Get(ctx, scope, IndexDocument)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, errNoCachedIndex
			}
			return nil, err
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		sc.idx = doc.Index()
		sc.state = StateLoaded
		sc.version = doc.Metadata.Version
	}

	changed := make(map[trade.ID]struct{}, len(changedIDs))
	for _, id := range changedIDs {
		changed[id] = struct{}{}
	}

	work := sc.idx.Clone()
	touched := make(map[string]struct{})

	// Remove every old reference held by a changed record.
	for tag, entry := range work {
		for id := range changed {
			if entry.HasRecord(id) {
				entry.RemoveRecord(id)
				touched[tag] = struct{}{}
			}
		}
	}

	// Re-add the current (post-change) tags.
	pnlByID := make(map[trade.ID]float64, len(allTrades))
	execByID := make(map[trade.ID]time.Time, len(allTrades))
	for _, t := range allTrades {
		pnlByID[t.ID] = t.PnL
		execByID[t.ID] = t.ExecutedAt
		if _, ok := changed[t.ID]; !ok {
			continue
		}
		for _, tag := range index.NormalizeTags(t.Tags) {
			entry, ok := work[tag]
			if !ok {
				entry = &index.Entry{}
				work[tag] = entry
			}
			entry.AddRecord(t.ID, t.ExecutedAt)
			touched[tag] = struct{}{}
		}
	}

	// Drop entries no record references anymore.
	var removed []string
	for tag, entry := range work {
		if entry.Count == 0 {
			removed = append(removed, tag)
			delete(work, tag)
		}
	}

	// Statistics refresh is limited to tags touched by this batch.
	// LastUsed is recomputed too: removing the newest record must let
	// it regress, matching what a full rebuild would produce.
	for tag := range touched {
		entry, ok := work[tag]
		if !ok {
			continue
		}
		entry.RecomputePerformance(pnlByID)
		var lastUsed time.Time
		for _, id := range entry.RecordIDs {
			if at := execByID[id]; at.After(lastUsed) {
				lastUsed = at
			}
		}
		entry.LastUsed = lastUsed
	}

	if err := m.persistLocked(ctx, scope, sc, work, removed, true); err != nil {
		return nil, err
	}

	m.logger.Debug("incremental update applied",
		"scope", scope,
		"changed", len(changedIDs),
		"touched", len(touched),
		"removed", len(removed),
	)
	return work.Clone(), nil
}

// CleanupOrphanedTags removes index entries whose tag no longer
// appears on any current record and returns the removed tags sorted.
func (m *Manager) CleanupOrphanedTags(ctx context.Context, scope string, current []trade.Trade) ([]string, error) {
	sc := m.scope(scope)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.state != StateLoaded {
		data, err := m.store.Get(ctx, scope, IndexDocument)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading index for cleanup: %w", err)
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		sc.idx = doc.Index()
		sc.state = StateLoaded
		sc.version = doc.Metadata.Version
	}

	live := make(map[string]struct{})
	for _, t := range current {
		for _, tag := range index.NormalizeTags(t.Tags) {
			live[tag] = struct{}{}
		}
	}

	work := sc.idx.Clone()
	var removed []string
	for tag := range work {
		if _, ok := live[tag]; !ok {
			removed = append(removed, tag)
			delete(work, tag)
		}
	}
	sort.Strings(removed)
	if len(removed) == 0 {
		return nil, nil
	}

	if err := m.persistLocked(ctx, scope, sc, work, removed, true); err != nil {
		return nil, fmt.Errorf("persisting cleanup for scope %s: %w", scope, err)
	}

	m.logger.Info("orphaned tags removed", "scope", scope, "removed", removed)
	return removed, nil
}

// IntegrityReport is the outcome of ValidateIntegrity. IsValid is
// strictly "no errors"; warnings alone never invalidate.
type IntegrityReport struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// ValidateIntegrity rebuilds the expected index from the record set
// and diffs it against the persisted one. Missing entries, count
// mismatches, and missing record references are errors; orphaned
// entries and extra references are warnings. Nothing is auto-corrected.
func (m *Manager) ValidateIntegrity(ctx context.Context, scope string, trades []trade.Trade) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	data, err := m.store.Get(ctx, scope, IndexDocument)
	if errors.Is(err, ErrNotFound) {
		report.Errors = append(report.Errors, "no persisted index found for scope")
		report.Recommendations = append(report.Recommendations, "rebuild the index from records")
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading persisted index: %w", err)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("persisted index is corrupted: %v", err))
		report.Recommendations = append(report.Recommendations, "rebuild the index from records")
		return report, nil
	}
	persisted := doc.Index()

	expected := index.Build(trades)

	for _, tag := range expected.Tags() {
		want := expected[tag]
		got, ok := persisted[tag]
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("missing index entry for tag %s", tag))
			continue
		}
		if got.Count != want.Count {
			report.Errors = append(report.Errors,
				fmt.Sprintf("count mismatch for tag %s: index has %d, records have %d", tag, got.Count, want.Count))
		}
		for _, id := range want.RecordIDs {
			if !got.HasRecord(id) {
				report.Errors = append(report.Errors,
					fmt.Sprintf("tag %s is missing record reference %s", tag, id))
			}
		}
		for _, id := range got.RecordIDs {
			if !want.HasRecord(id) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("tag %s holds an extra record reference %s", tag, id))
			}
		}
	}

	for _, tag := range persisted.Tags() {
		if _, ok := expected[tag]; !ok {
			report.Warnings = append(report.Warnings, fmt.Sprintf("orphaned index entry for tag %s", tag))
		}
	}

	if len(report.Errors) > 0 {
		report.Recommendations = append(report.Recommendations, "rebuild the index from records")
	}
	if len(report.Warnings) > 0 {
		report.Recommendations = append(report.Recommendations, "run orphaned tag cleanup")
	}
	report.IsValid = len(report.Errors) == 0
	return report, nil
}

// ExportPayload is the import/export interchange format.
type ExportPayload struct {
	FormatVersion int                     `json:"formatVersion"`
	Scope         string                  `json:"scope"`
	ExportedAt    time.Time               `json:"exportedAt"`
	Metadata      Metadata                `json:"metadata"`
	Entries       map[string]*index.Entry `json:"entries"`
}

// ExportData serializes the persisted index for backup or transfer.
func (m *Manager) ExportData(ctx context.Context, scope string) ([]byte, error) {
	data, err := m.store.Get(ctx, scope, IndexDocument)
	if err != nil {
		return nil, fmt.Errorf("exporting index for scope %s: %w", scope, err)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}

	payload := ExportPayload{
		FormatVersion: FormatVersion,
		Scope:         scope,
		ExportedAt:    m.clock.Now(),
		Metadata:      doc.Metadata,
		Entries:       doc.Entries,
	}
	return json.MarshalIndent(payload, "", "  ")
}

// ImportData validates and installs an exported index. Every entry
// must carry count, a recordIds array, and lastUsed; any malformed
// entry rejects the whole import (no partial apply).
func (m *Manager) ImportData(ctx context.Context, scope string, data []byte) error {
	var shape struct {
		FormatVersion int                        `json:"formatVersion"`
		Entries       map[string]json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return fmt.Errorf("import payload is not valid JSON: %w", err)
	}
	if shape.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported import format version %d (want %d)", shape.FormatVersion, FormatVersion)
	}
	if shape.Entries == nil {
		return errors.New("import payload has no entries")
	}

	for tag, raw := range shape.Entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("invalid entry for tag %s: not an object", tag)
		}
		if _, ok := fields["count"]; !ok {
			return fmt.Errorf("invalid entry for tag %s: missing count", tag)
		}
		var ids []json.RawMessage
		rawIDs, ok := fields["recordIds"]
		if !ok || json.Unmarshal(rawIDs, &ids) != nil {
			return fmt.Errorf("invalid entry for tag %s: recordIds must be an array", tag)
		}
		if _, ok := fields["lastUsed"]; !ok {
			return fmt.Errorf("invalid entry for tag %s: missing lastUsed", tag)
		}
	}

	var payload ExportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decoding import payload: %w", err)
	}

	idx := make(index.Index, len(payload.Entries))
	for tag, entry := range payload.Entries {
		idx[tag] = entry.Clone()
	}

	sc := m.scope(scope)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := m.persistLocked(ctx, scope, sc, idx, nil, false); err != nil {
		return fmt.Errorf("persisting imported index: %w", err)
	}
	m.logger.Info("index imported", "scope", scope, "tags", len(idx))
	return nil
}

// Subscribe delivers the scope's index on the initial state and every
// remote change. A failing subscription calls back once with a nil
// index instead of returning an error.
//
// The returned cancel function must be called on scope teardown to
// avoid leaking the callback.
func (m *Manager) Subscribe(ctx context.Context, scope string, fn func(index.Index)) func() {
	cancel, err := m.store.Subscribe(ctx, scope, IndexDocument, func(data []byte) {
		doc, err := DecodeDocument(data)
		if err != nil {
			m.logger.Warn("subscription payload corrupted", "scope", scope, "error", err)
			fn(nil)
			return
		}
		fn(doc.Index())
	})
	if err != nil {
		m.logger.Warn("subscription failed", "scope", scope, "error", err)
		fn(nil)
		return func() {}
	}
	return cancel
}

// Suggestions returns the top-n ranked tags for the scope, cached
// with a time-boxed expiry. Staleness inside the TTL is acceptable.
func (m *Manager) Suggestions(ctx context.Context, scope string, n int) ([]index.RankedTag, error) {
	sc := m.scope(scope)

	sc.mu.Lock()
	now := m.clock.Now()
	if sc.suggestions != nil && now.Sub(sc.suggestionsAt) < m.suggestionTTL {
		cached := sc.suggestions
		sc.mu.Unlock()
		if n >= 0 && n < len(cached) {
			cached = cached[:n]
		}
		return cached, nil
	}
	sc.mu.Unlock()

	idx, found, err := m.Load(ctx, scope)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	ranked := idx.TopTags(-1, now)
	sc.mu.Lock()
	sc.suggestions = ranked
	sc.suggestionsAt = now
	sc.mu.Unlock()

	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked, nil
}
