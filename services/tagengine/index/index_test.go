// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

func day(n int) time.Time {
	return time.Date(2025, 3, n, 0, 0, 0, 0, time.UTC)
}

func sampleTrades() []trade.Trade {
	return []trade.Trade{
		{ID: "t1", ExecutedAt: day(1), PnL: 150, Tags: []string{"#breakout", "#trend"}},
		{ID: "t2", ExecutedAt: day(2), PnL: -50, Tags: []string{"#breakout", "#scalp"}},
		{ID: "t3", ExecutedAt: day(3), PnL: 75, Tags: []string{"#breakout"}},
		{ID: "t4", ExecutedAt: day(4), PnL: 20, Tags: nil},
	}
}

func TestBuild(t *testing.T) {
	idx := Build(sampleTrades())

	require.ElementsMatch(t, []string{"#breakout", "#scalp", "#trend"}, idx.Tags())

	breakout := idx["#breakout"]
	require.NotNil(t, breakout)
	assert.Equal(t, 3, breakout.Count)
	assert.ElementsMatch(t, []trade.ID{"t1", "t2", "t3"}, breakout.RecordIDs)
	assert.Equal(t, day(3), breakout.LastUsed)

	perf := breakout.Performance
	assert.Equal(t, 3, perf.TotalRecords)
	assert.InDelta(t, 2.0/3.0, perf.WinRate, 1e-9)
	assert.InDelta(t, (150.0-50+75)/3, perf.AveragePnL, 1e-9)
	assert.InDelta(t, 225.0/50.0, perf.ProfitFactor, 1e-9)
}

// Core invariant: count always equals the record set size, and the
// record ids are a subset of the records actually carrying the tag.
func TestBuildInvariants(t *testing.T) {
	trades := sampleTrades()
	idx := Build(trades)

	carrying := func(tag string) map[trade.ID]bool {
		out := make(map[trade.ID]bool)
		for _, tr := range trades {
			for _, raw := range NormalizeTags(tr.Tags) {
				if raw == tag {
					out[tr.ID] = true
				}
			}
		}
		return out
	}

	for tag, entry := range idx {
		assert.Equal(t, entry.Count, len(entry.RecordIDs), "tag %s", tag)
		assert.Equal(t, entry.Count, entry.Performance.TotalRecords, "tag %s", tag)
		owners := carrying(tag)
		for _, id := range entry.RecordIDs {
			assert.True(t, owners[id], "tag %s claims record %s", tag, id)
		}
	}
}

func TestBuildNormalizesAndDeduplicates(t *testing.T) {
	trades := []trade.Trade{
		{ID: "t1", ExecutedAt: day(1), PnL: 10, Tags: []string{"#Breakout", "breakout", "#BREAKOUT"}},
	}
	idx := Build(trades)

	require.Len(t, idx, 1)
	entry := idx["#breakout"]
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Count)
}

func TestBuildEmptyAndUntagged(t *testing.T) {
	assert.Empty(t, Build(nil))
	assert.Empty(t, Build([]trade.Trade{{ID: "t1", ExecutedAt: day(1)}}))
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	idx := Build([]trade.Trade{
		{ID: "t1", ExecutedAt: day(1), PnL: 100, Tags: []string{"#trend"}},
		{ID: "t2", ExecutedAt: day(2), PnL: 50, Tags: []string{"#trend"}},
	})
	assert.InDelta(t, 150.0, idx["#trend"].Performance.ProfitFactor, 1e-9)
}

func TestEntryAddRemoveRecord(t *testing.T) {
	e := &Entry{}
	e.AddRecord("t1", day(2))
	e.AddRecord("t2", day(1)) // older, must not move LastUsed back
	e.AddRecord("t1", day(3)) // duplicate id, newer date

	assert.Equal(t, 2, e.Count)
	assert.Equal(t, day(3), e.LastUsed)

	e.RemoveRecord("t1")
	assert.Equal(t, 1, e.Count)
	assert.False(t, e.HasRecord("t1"))

	e.RemoveRecord("missing")
	assert.Equal(t, 1, e.Count)
}

func TestCloneIsDeep(t *testing.T) {
	idx := Build(sampleTrades())
	clone := idx.Clone()

	clone["#breakout"].RemoveRecord("t1")
	clone["#new"] = &Entry{Count: 1, RecordIDs: []trade.ID{"x"}}

	assert.Equal(t, 3, idx["#breakout"].Count)
	assert.NotContains(t, idx, "#new")
}

func TestTotalRecords(t *testing.T) {
	idx := Build(sampleTrades())
	// t4 carries no tags, so only three distinct records are indexed.
	assert.Equal(t, 3, idx.TotalRecords())
}

func TestTopTags(t *testing.T) {
	idx := Build(sampleTrades())
	now := day(5)

	ranked := idx.TopTags(2, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "#breakout", ranked[0].Tag)
	assert.Equal(t, 3, ranked[0].Count)

	all := idx.TopTags(-1, now)
	assert.Len(t, all, 3)
	// Equal counts and dates tie-break on name.
	assert.Equal(t, "#scalp", all[1].Tag)
	assert.Equal(t, "#trend", all[2].Tag)
}
