// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mutate applies structural tag operations (delete, merge,
// rename, replace) across a record set, with dry-run preview,
// per-record change deltas, and single-level undo.
package mutate

import (
	"time"

	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

// OpType identifies a bulk mutation variant.
type OpType string

const (
	OpDelete  OpType = "delete"
	OpMerge   OpType = "merge"
	OpRename  OpType = "rename"
	OpReplace OpType = "replace"
)

// Operation describes one bulk mutation.
//
// Tags are the source tags the operation targets. Target carries the
// merge target, rename value, or replacement tag depending on Type.
type Operation struct {
	// ID identifies the operation in history. Assigned automatically
	// when empty.
	ID string

	Type   OpType
	Tags   []string
	Target string

	// CreateBackup requests a full pre-image snapshot so the
	// operation can be rolled back. Only the most recent backup is
	// retained.
	CreateBackup bool
}

// ChangeDelta records how one record's tags changed.
type ChangeDelta struct {
	RecordID   trade.ID  `json:"recordId"`
	ChangeType OpType    `json:"changeType"`
	OldTags    []string  `json:"oldTags"`
	NewTags    []string  `json:"newTags"`
	Timestamp  time.Time `json:"timestamp"`
}

// Result is the outcome of Execute or Preview.
//
// Success is false only for precondition failures; an operation that
// matches zero records succeeds with AffectedTrades == 0. Warnings
// come from advisory validation rules and never block.
type Result struct {
	Success        bool
	AffectedTrades int
	AffectedTags   []string
	Errors         []string
	Warnings       []string
	Changes        []ChangeDelta
}

// Backup is a full pre-operation snapshot of record tags, keyed by
// record id. Only records are snapshotted, never the index: rollback
// feeds the restored records back through normal index maintenance.
type Backup map[trade.ID][]string
