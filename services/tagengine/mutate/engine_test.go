// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mutate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tagledger/pkg/clock"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

func newTestEngine() *Engine {
	return NewEngine(EngineConfig{
		Clock: clock.NewFake(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)),
	})
}

func twoTrades() []trade.Trade {
	return []trade.Trade{
		{ID: "1", Tags: []string{"#breakout", "#trend"}},
		{ID: "2", Tags: []string{"#breakout", "#scalp"}},
	}
}

func TestExecuteDelete(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	res := e.Execute(Operation{Type: OpDelete, Tags: []string{"#breakout"}}, trades)

	require.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedTrades)
	assert.Equal(t, []string{"#breakout"}, res.AffectedTags)
	assert.Equal(t, []string{"#trend"}, trades[0].Tags)
	assert.Equal(t, []string{"#scalp"}, trades[1].Tags)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, []string{"#breakout", "#trend"}, res.Changes[0].OldTags)
	assert.Equal(t, []string{"#trend"}, res.Changes[0].NewTags)
}

func TestExecuteDeleteMatchesUnprefixedSpelling(t *testing.T) {
	e := newTestEngine()
	trades := []trade.Trade{
		{ID: "1", Tags: []string{"breakout", "trend"}},
	}
	res := e.Execute(Operation{Type: OpDelete, Tags: []string{"#Breakout"}}, trades)
	require.True(t, res.Success)
	assert.Equal(t, []string{"trend"}, trades[0].Tags)
}

func TestExecuteMerge(t *testing.T) {
	e := newTestEngine()
	trades := []trade.Trade{
		{ID: "1", Tags: []string{"#breakout"}},
		{ID: "2", Tags: []string{"#reversal"}},
		{ID: "3", Tags: []string{"#breakout", "#setup_based"}},
		{ID: "4", Tags: []string{"#scalp"}},
	}

	res := e.Execute(Operation{
		Type:   OpMerge,
		Tags:   []string{"#breakout", "#reversal"},
		Target: "#setup_based",
	}, trades)

	require.True(t, res.Success)
	assert.Equal(t, 3, res.AffectedTrades)
	assert.Equal(t, []string{"#setup_based"}, trades[0].Tags)
	assert.Equal(t, []string{"#setup_based"}, trades[1].Tags)
	// No duplicate when the record already carried the target.
	assert.Equal(t, []string{"#setup_based"}, trades[2].Tags)
	assert.Equal(t, []string{"#scalp"}, trades[3].Tags)
}

func TestExecuteRename(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	res := e.Execute(Operation{Type: OpRename, Tags: []string{"#breakout"}, Target: "#momo"}, trades)
	require.True(t, res.Success)
	assert.Equal(t, []string{"#momo", "#trend"}, trades[0].Tags)
	assert.Equal(t, []string{"#momo", "#scalp"}, trades[1].Tags)
}

func TestExecuteReplace(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	res := e.Execute(Operation{
		Type:   OpReplace,
		Tags:   []string{"#breakout", "#scalp"},
		Target: "#intraday",
	}, trades)
	require.True(t, res.Success)
	assert.Equal(t, []string{"#intraday", "#trend"}, trades[0].Tags)
	assert.Equal(t, []string{"#intraday"}, trades[1].Tags)
}

func TestPreconditions(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	tests := []struct {
		name    string
		op      Operation
		wantErr string
	}{
		{"merge without target", Operation{Type: OpMerge, Tags: []string{"#a"}}, "merge target required"},
		{"rename multiple tags", Operation{Type: OpRename, Tags: []string{"#a", "#b"}, Target: "#c"}, "single tag only"},
		{"rename without target", Operation{Type: OpRename, Tags: []string{"#a"}}, "target value required"},
		{"replace without target", Operation{Type: OpReplace, Tags: []string{"#a"}}, "replacement tag required"},
		{"replace with invalid target", Operation{Type: OpReplace, Tags: []string{"#a"}, Target: "#bad tag!"}, "invalid replacement tag"},
		{"unsupported type", Operation{Type: "explode", Tags: []string{"#a"}}, "unsupported operation type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(tt.op, trades)
			assert.False(t, res.Success)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], tt.wantErr)
			// Failed preconditions must leave records untouched.
			assert.Equal(t, twoTrades(), trades)
		})
	}
}

// Preview must never mutate records and must produce the same changes
// Execute would.
func TestPreviewMatchesExecute(t *testing.T) {
	op := Operation{Type: OpMerge, Tags: []string{"#breakout"}, Target: "#momo"}

	previewEngine := newTestEngine()
	previewTrades := twoTrades()
	preview := previewEngine.Preview(op, previewTrades)
	assert.Equal(t, twoTrades(), previewTrades, "preview must not mutate")

	executeEngine := newTestEngine()
	executeTrades := twoTrades()
	executed := executeEngine.Execute(op, executeTrades)

	assert.Equal(t, executed.Changes, preview.Changes)
	assert.Equal(t, executed.AffectedTrades, preview.AffectedTrades)
	assert.Equal(t, executed.AffectedTags, preview.AffectedTags)
}

func TestRollbackLast(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	res := e.Execute(Operation{Type: OpDelete, Tags: []string{"#breakout"}, CreateBackup: true}, trades)
	require.True(t, res.Success)
	require.NotEqual(t, twoTrades(), trades)

	require.NoError(t, e.RollbackLast(trades))
	assert.Equal(t, twoTrades(), trades)

	// Single-level undo: the backup is consumed.
	assert.ErrorIs(t, e.RollbackLast(trades), ErrNoBackup)
}

func TestRollbackWithoutBackup(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	assert.ErrorIs(t, e.RollbackLast(trades), ErrNoBackup)

	e.Execute(Operation{Type: OpDelete, Tags: []string{"#breakout"}}, trades)
	assert.ErrorIs(t, e.RollbackLast(trades), ErrNoBackup)
}

func TestNewerOperationSupersedesBackup(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	e.Execute(Operation{Type: OpDelete, Tags: []string{"#breakout"}, CreateBackup: true}, trades)
	e.Execute(Operation{Type: OpDelete, Tags: []string{"#trend"}, CreateBackup: true}, trades)

	// Rollback restores only the most recent pre-image.
	require.NoError(t, e.RollbackLast(trades))
	assert.Equal(t, []string{"#trend"}, trades[0].Tags)
	assert.Equal(t, []string{"#scalp"}, trades[1].Tags)
}

func TestHistoryBoundedMostRecentFirst(t *testing.T) {
	e := NewEngine(EngineConfig{
		Clock:        clock.NewFake(time.Unix(0, 0)),
		HistoryLimit: 3,
	})

	trades := []trade.Trade{{ID: "1", Tags: []string{"#a", "#b", "#c", "#d", "#e"}}}
	for _, tag := range []string{"#a", "#b", "#c", "#d"} {
		res := e.Execute(Operation{Type: OpDelete, Tags: []string{tag}}, trades)
		require.True(t, res.Success)
	}

	hist := e.History()
	require.Len(t, hist, 3)
	assert.Equal(t, OpDelete, hist[0].Type)
	assert.Equal(t, 1, hist[0].Changes)
}

func TestValidationRules(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, []string{"blast-radius"}, e.ValidationRules())

	e.AddValidationRule("no-trend", func(tag string, _ int) (bool, string) {
		if tag == "#trend" {
			return false, "trend tags are locked"
		}
		return true, ""
	})
	assert.Equal(t, []string{"blast-radius", "no-trend"}, e.ValidationRules())

	res := e.Preview(Operation{Type: OpDelete, Tags: []string{"#trend"}}, twoTrades())
	require.True(t, res.Success, "rule failures warn, not block")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "trend tags are locked")

	e.RemoveValidationRule("no-trend")
	assert.Equal(t, []string{"blast-radius"}, e.ValidationRules())
}

func TestBlastRadiusRule(t *testing.T) {
	e := NewEngine(EngineConfig{
		Clock:                clock.NewFake(time.Unix(0, 0)),
		BlastRadiusThreshold: 2,
	})

	trades := make([]trade.Trade, 3)
	for i := range trades {
		trades[i] = trade.Trade{ID: trade.ID(fmt.Sprintf("t%d", i)), Tags: []string{"#popular"}}
	}

	res := e.Preview(Operation{Type: OpDelete, Tags: []string{"#popular"}}, trades)
	require.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "used by 3 records")
}

func TestNoMatchesSucceedsWithZeroAffected(t *testing.T) {
	e := newTestEngine()
	trades := twoTrades()

	res := e.Execute(Operation{Type: OpDelete, Tags: []string{"#nonexistent"}}, trades)
	require.True(t, res.Success)
	assert.Zero(t, res.AffectedTrades)
	assert.Empty(t, res.Changes)
	assert.Equal(t, twoTrades(), trades)
}
