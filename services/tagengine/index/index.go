// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains the derived tag index: a mapping from
// normalized tag to the records carrying it plus aggregate trade
// statistics.
//
// The index is a pure in-memory structure. Durability, incremental
// maintenance, and integrity checking live in the store package; bulk
// tag rewrites live in the mutate package.
package index

import (
	"sort"
	"time"

	"github.com/AleutianAI/tagledger/pkg/validation"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

// Performance aggregates trade outcomes for one tag.
//
// Invariant: TotalRecords equals the owning entry's Count.
type Performance struct {
	TotalRecords int     `json:"totalRecords"`
	WinRate      float64 `json:"winRate"`
	AveragePnL   float64 `json:"averagePnL"`
	ProfitFactor float64 `json:"profitFactor"`
}

// Entry is the index value for one tag.
//
// Invariant: Count == len(RecordIDs), and RecordIDs is duplicate-free.
// RecordIDs keeps first-seen order; treat it as a set.
type Entry struct {
	Count       int         `json:"count"`
	RecordIDs   []trade.ID  `json:"recordIds"`
	LastUsed    time.Time   `json:"lastUsed"`
	Performance Performance `json:"performance"`
}

// HasRecord reports set membership of id.
func (e *Entry) HasRecord(id trade.ID) bool {
	for _, have := range e.RecordIDs {
		if have == id {
			return true
		}
	}
	return false
}

// AddRecord inserts id if absent and advances LastUsed if executedAt
// is newer. Count tracks the set size.
func (e *Entry) AddRecord(id trade.ID, executedAt time.Time) {
	if !e.HasRecord(id) {
		e.RecordIDs = append(e.RecordIDs, id)
		e.Count = len(e.RecordIDs)
	}
	if executedAt.After(e.LastUsed) {
		e.LastUsed = executedAt
	}
}

// RemoveRecord deletes id from the set if present.
func (e *Entry) RemoveRecord(id trade.ID) {
	kept := e.RecordIDs[:0]
	for _, have := range e.RecordIDs {
		if have != id {
			kept = append(kept, have)
		}
	}
	e.RecordIDs = kept
	e.Count = len(e.RecordIDs)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	out := *e
	out.RecordIDs = make([]trade.ID, len(e.RecordIDs))
	copy(out.RecordIDs, e.RecordIDs)
	return &out
}

// Index maps normalized tag to its entry. Keys always carry the
// marker prefix and are unique by construction.
type Index map[string]*Entry

// New returns an empty index.
func New() Index {
	return make(Index)
}

// Build performs a full scan of the record set and derives the index
// from scratch. This is the source-of-truth rebuild path, used when
// incremental state is missing, corrupted, or a forced rebuild is
// requested.
//
// Cost is O(total tag occurrences) plus one performance pass per tag.
//
// Inputs:
//
//	trades - The authoritative record set.
//
// Outputs:
//
//	Index - Freshly built index. Never nil.
func Build(trades []trade.Trade) Index {
	idx := New()
	pnlByID := make(map[trade.ID]float64, len(trades))

	for _, t := range trades {
		pnlByID[t.ID] = t.PnL
		for _, tag := range NormalizeTags(t.Tags) {
			entry, ok := idx[tag]
			if !ok {
				entry = &Entry{}
				idx[tag] = entry
			}
			entry.AddRecord(t.ID, t.ExecutedAt)
		}
	}

	for _, entry := range idx {
		entry.Performance = computePerformance(entry.RecordIDs, pnlByID)
	}
	return idx
}

// NormalizeTags normalizes a record's tag list and removes duplicates
// and empty values, preserving first-occurrence order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := validation.Normalize(raw)
		if tag == validation.Marker {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// RecomputePerformance refreshes one entry's statistics from the given
// P&L lookup. Used by incremental updates to avoid touching the whole
// index.
func (e *Entry) RecomputePerformance(pnlByID map[trade.ID]float64) {
	e.Performance = computePerformance(e.RecordIDs, pnlByID)
}

// computePerformance runs the single aggregation pass per tag: win
// rate is the fraction of records with positive P&L; profit factor is
// gross profit over gross loss. With no losing trades the divisor is
// treated as 1 so the value stays finite and JSON-encodable.
func computePerformance(ids []trade.ID, pnlByID map[trade.ID]float64) Performance {
	perf := Performance{TotalRecords: len(ids)}
	if len(ids) == 0 {
		return perf
	}

	var wins int
	var total, grossProfit, grossLoss float64
	for _, id := range ids {
		pnl := pnlByID[id]
		total += pnl
		if pnl > 0 {
			wins++
			grossProfit += pnl
		} else if pnl < 0 {
			grossLoss += -pnl
		}
	}

	perf.WinRate = float64(wins) / float64(len(ids))
	perf.AveragePnL = total / float64(len(ids))
	if grossLoss > 0 {
		perf.ProfitFactor = grossProfit / grossLoss
	} else {
		perf.ProfitFactor = grossProfit
	}
	return perf
}

// Tags returns the index keys in sorted order.
func (idx Index) Tags() []string {
	out := make([]string, 0, len(idx))
	for tag := range idx {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// TotalRecords returns the number of distinct records referenced by
// any entry.
func (idx Index) TotalRecords() int {
	seen := make(map[trade.ID]struct{})
	for _, entry := range idx {
		for _, id := range entry.RecordIDs {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Clone returns a deep copy. Readers always receive clones so that
// concurrent rebuilds never mutate a snapshot under them.
func (idx Index) Clone() Index {
	out := make(Index, len(idx))
	for tag, entry := range idx {
		out[tag] = entry.Clone()
	}
	return out
}

// RankedTag is one suggestion candidate produced by TopTags.
type RankedTag struct {
	Tag   string
	Count int
	Score float64
}

// TopTags ranks tags by a weighted score of usage count decayed by
// recency (half influence after roughly 30 days of disuse) and returns
// the best n. Results are deterministic: ties break on tag name.
func (idx Index) TopTags(n int, now time.Time) []RankedTag {
	ranked := make([]RankedTag, 0, len(idx))
	for tag, entry := range idx {
		ageDays := now.Sub(entry.LastUsed).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score := float64(entry.Count) * (30 / (30 + ageDays))
		ranked = append(ranked, RankedTag{Tag: tag, Count: entry.Count, Score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Tag < ranked[j].Tag
	})

	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
