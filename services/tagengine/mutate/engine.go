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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tagledger/pkg/clock"
	"github.com/AleutianAI/tagledger/pkg/logging"
	"github.com/AleutianAI/tagledger/pkg/validation"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

// ErrNoBackup is returned by RollbackLast when the last operation did
// not request a backup or the history is empty.
var ErrNoBackup = errors.New("no backup available")

// DefaultHistoryLimit bounds the operation history (most-recent
// first).
const DefaultHistoryLimit = 10

// DefaultBlastRadiusThreshold is the record count above which the
// built-in rule flags an operation as wide-reaching.
const DefaultBlastRadiusThreshold = 20

// RuleFunc is a pluggable pre-mutation check. It receives a candidate
// source tag and the number of records currently carrying it, and
// returns pass/fail plus a message for failures. Rule failures are
// advisory: they surface as warnings, not errors.
type RuleFunc func(tag string, recordsUsing int) (ok bool, message string)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Clock is the time source for change timestamps.
	Clock clock.Clock

	// Logger receives structured operational logs.
	Logger *slog.Logger

	// HistoryLimit bounds the retained operation history.
	HistoryLimit int

	// BlastRadiusThreshold tunes the built-in wide-reach rule.
	BlastRadiusThreshold int
}

// Engine executes bulk tag mutations over a borrowed record set.
//
// The engine never holds references to records across calls; callers
// pass the record slice into each operation and own persistence of
// the mutated tags (typically via store.Manager.IncrementalUpdate).
//
// # Thread Safety
//
// All methods are safe for concurrent use; operations on the engine
// are serialized internally.
type Engine struct {
	mu sync.Mutex

	clock        clock.Clock
	logger       *slog.Logger
	historyLimit int

	ruleOrder []string
	rules     map[string]RuleFunc

	history []historyEntry
}

type historyEntry struct {
	opID      string
	opType    OpType
	appliedAt time.Time
	changes   []ChangeDelta
	backup    Backup
}

// NewEngine creates a mutation engine with the built-in blast-radius
// rule installed.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	threshold := cfg.BlastRadiusThreshold
	if threshold <= 0 {
		threshold = DefaultBlastRadiusThreshold
	}

	e := &Engine{
		clock:        cfg.Clock,
		logger:       logging.Component(cfg.Logger, "mutate.Engine"),
		historyLimit: cfg.HistoryLimit,
		rules:        make(map[string]RuleFunc),
	}
	e.AddValidationRule("blast-radius", func(tag string, recordsUsing int) (bool, string) {
		if recordsUsing > threshold {
			return false, fmt.Sprintf("tag %s is used by %d records (threshold %d); double-check before mutating", tag, recordsUsing, threshold)
		}
		return true, ""
	})
	return e
}

// AddValidationRule installs or replaces a named rule.
func (e *Engine) AddValidationRule(name string, fn RuleFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[name]; !exists {
		e.ruleOrder = append(e.ruleOrder, name)
	}
	e.rules[name] = fn
}

// RemoveValidationRule uninstalls a rule by name.
func (e *Engine) RemoveValidationRule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[name]; !exists {
		return
	}
	delete(e.rules, name)
	for i, n := range e.ruleOrder {
		if n == name {
			e.ruleOrder = append(e.ruleOrder[:i], e.ruleOrder[i+1:]...)
			break
		}
	}
}

// ValidationRules lists installed rule names in registration order.
func (e *Engine) ValidationRules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ruleOrder))
	copy(out, e.ruleOrder)
	return out
}

// validateOperation checks the per-variant preconditions. Returned
// strings are caller-input problems; they are reported, never thrown.
func validateOperation(op Operation) []string {
	switch op.Type {
	case OpDelete:
		return nil
	case OpMerge:
		if strings.TrimSpace(op.Target) == "" {
			return []string{"merge target required"}
		}
	case OpRename:
		var errs []string
		if len(op.Tags) != 1 {
			errs = append(errs, "rename accepts a single tag only")
		}
		if strings.TrimSpace(op.Target) == "" {
			errs = append(errs, "target value required")
		}
		return errs
	case OpReplace:
		if strings.TrimSpace(op.Target) == "" {
			return []string{"replacement tag required"}
		}
		res := validation.ValidateTag(op.Target)
		if !res.IsValid {
			errs := make([]string, 0, len(res.Errors))
			for _, issue := range res.Errors {
				errs = append(errs, fmt.Sprintf("invalid replacement tag: %s", issue.Message))
			}
			return errs
		}
	default:
		return []string{fmt.Sprintf("unsupported operation type: %q", op.Type)}
	}
	return nil
}

// newTagsFor computes a record's post-operation tag list, or ok=false
// when the operation does not touch the record. Matching is done on
// normalized forms; untouched tags keep their original spelling and
// order.
func newTagsFor(op Operation, sources map[string]struct{}, target string, tags []string) ([]string, bool) {
	matched := false
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))

	appendTag := func(raw, normalized string) {
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, raw)
	}

	for _, raw := range tags {
		norm := validation.Normalize(raw)
		if _, hit := sources[norm]; !hit {
			appendTag(raw, norm)
			continue
		}
		matched = true
		if op.Type == OpDelete {
			continue
		}
		// merge, rename, replace all substitute the target,
		// de-duplicating if the record already carries it.
		appendTag(target, target)
	}

	if !matched {
		return nil, false
	}
	return out, true
}

// computeChanges runs the shared apply phase without mutating any
// record. It returns the per-record deltas plus the normalized source
// tags that matched at least one record.
func (e *Engine) computeChanges(op Operation, trades []trade.Trade, now time.Time) ([]ChangeDelta, []string) {
	sources := make(map[string]struct{}, len(op.Tags))
	for _, tag := range op.Tags {
		sources[validation.Normalize(tag)] = struct{}{}
	}
	target := validation.Normalize(op.Target)

	affected := make(map[string]struct{})
	var changes []ChangeDelta
	for _, t := range trades {
		next, touched := newTagsFor(op, sources, target, t.Tags)
		if !touched {
			continue
		}
		for _, raw := range t.Tags {
			norm := validation.Normalize(raw)
			if _, hit := sources[norm]; hit {
				affected[norm] = struct{}{}
			}
		}
		changes = append(changes, ChangeDelta{
			RecordID:   t.ID,
			ChangeType: op.Type,
			OldTags:    t.CloneTags(),
			NewTags:    next,
			Timestamp:  now,
		})
	}

	affectedTags := make([]string, 0, len(affected))
	for tag := range affected {
		affectedTags = append(affectedTags, tag)
	}
	sort.Strings(affectedTags)
	return changes, affectedTags
}

// runRules evaluates installed rules against every source tag with
// its current usage count. Failures become warnings.
func (e *Engine) runRules(op Operation, trades []trade.Trade) []string {
	usage := make(map[string]int)
	for _, t := range trades {
		for _, raw := range t.Tags {
			usage[validation.Normalize(raw)]++
		}
	}

	var warnings []string
	for _, name := range e.ruleOrder {
		fn := e.rules[name]
		for _, raw := range op.Tags {
			tag := validation.Normalize(raw)
			if ok, msg := fn(tag, usage[tag]); !ok {
				warnings = append(warnings, fmt.Sprintf("rule %s: %s", name, msg))
			}
		}
	}
	return warnings
}

// Preview computes the exact changes Execute would make without
// mutating any record. For identical inputs (and clock time) the
// returned Changes are identical to Execute's.
func (e *Engine) Preview(op Operation, trades []trade.Trade) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(op, trades, false)
}

// Execute applies the operation, mutating the tag lists of the passed
// records in place, and appends the deltas (plus an optional backup)
// to the bounded operation history.
//
// Outputs:
//
//	Result - Success=false only on precondition failure; the record
//	    set is untouched in that case.
func (e *Engine) Execute(op Operation, trades []trade.Trade) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(op, trades, true)
}

func (e *Engine) run(op Operation, trades []trade.Trade, apply bool) Result {
	if errs := validateOperation(op); len(errs) > 0 {
		return Result{Errors: errs}
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	now := e.clock.Now()
	changes, affectedTags := e.computeChanges(op, trades, now)
	warnings := e.runRules(op, trades)

	res := Result{
		Success:        true,
		AffectedTrades: len(changes),
		AffectedTags:   affectedTags,
		Warnings:       warnings,
		Changes:        changes,
	}
	if !apply {
		return res
	}

	var backup Backup
	if op.CreateBackup {
		backup = make(Backup, len(trades))
		for _, t := range trades {
			backup[t.ID] = t.CloneTags()
		}
	}

	byID := make(map[trade.ID][]string, len(changes))
	for _, c := range changes {
		byID[c.RecordID] = c.NewTags
	}
	for i := range trades {
		if next, ok := byID[trades[i].ID]; ok {
			trades[i].Tags = append([]string(nil), next...)
		}
	}

	e.pushHistory(historyEntry{
		opID:      op.ID,
		opType:    op.Type,
		appliedAt: now,
		changes:   changes,
		backup:    backup,
	})

	e.logger.Info("bulk mutation applied",
		"operation", op.ID,
		"type", op.Type,
		"affectedTrades", len(changes),
		"affectedTags", affectedTags,
		"backup", backup != nil,
	)
	return res
}

// pushHistory prepends the entry and drops the oldest beyond the
// limit. A new operation supersedes any older backup.
func (e *Engine) pushHistory(entry historyEntry) {
	for i := range e.history {
		e.history[i].backup = nil
	}
	e.history = append([]historyEntry{entry}, e.history...)
	if len(e.history) > e.historyLimit {
		e.history = e.history[:e.historyLimit]
	}
}

// RollbackLast restores every record's tags from the most recent
// backup. Only one level of undo is supported: a successful rollback
// consumes the backup.
func (e *Engine) RollbackLast(trades []trade.Trade) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 || e.history[0].backup == nil {
		return ErrNoBackup
	}
	backup := e.history[0].backup

	for i := range trades {
		if tags, ok := backup[trades[i].ID]; ok {
			if tags == nil {
				trades[i].Tags = nil
			} else {
				trades[i].Tags = append([]string(nil), tags...)
			}
		}
	}

	e.history[0].backup = nil
	e.logger.Info("rolled back last operation", "operation", e.history[0].opID, "type", e.history[0].opType)
	return nil
}

// HistoryEntry is a read-only summary of one applied operation.
type HistoryEntry struct {
	OperationID string
	Type        OpType
	AppliedAt   time.Time
	Changes     int
	HasBackup   bool
}

// History returns applied operations, most recent first.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]HistoryEntry, len(e.history))
	for i, entry := range e.history {
		out[i] = HistoryEntry{
			OperationID: entry.opID,
			Type:        entry.opType,
			AppliedAt:   entry.appliedAt,
			Changes:     len(entry.changes),
			HasBackup:   entry.backup != nil,
		}
	}
	return out
}

// ChangedRecordIDs extracts the record ids touched by a result, in
// delta order. Feed these to the index incremental update.
func ChangedRecordIDs(res Result) []trade.ID {
	out := make([]trade.ID, len(res.Changes))
	for i, c := range res.Changes {
		out[i] = c.RecordID
	}
	return out
}
