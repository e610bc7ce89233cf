// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the tag index and keeps the cached copy
// consistent with the authoritative record set.
//
// The package depends only on the narrow DocumentStore contract
// (get, set-with-optional-merge, change subscription) keyed by
// (scope, document). BadgerStore is the production implementation;
// MemoryStore backs tests and the offline import path.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/tagledger/services/tagengine/index"
)

// IndexDocument is the fixed document key for a scope's tag index.
const IndexDocument = "tagIndex"

// FormatVersion is the on-disk and export payload format version.
const FormatVersion = 1

var (
	// ErrNotFound is returned by Get when no document exists for the
	// (scope, key) pair. Absence is a normal condition, not a failure.
	ErrNotFound = errors.New("document not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("document store is closed")
)

// DocumentStore is the durable key-value boundary of the engine.
//
// Implementations must treat values as opaque JSON documents. Set with
// merge=true applies JSON merge-patch semantics: object fields are
// merged recursively, explicit nulls delete, everything else replaces.
type DocumentStore interface {
	// Get returns the document for (scope, key), or ErrNotFound.
	Get(ctx context.Context, scope, key string) ([]byte, error)

	// Set writes the document. With merge=true the value is applied as
	// a merge patch over the existing document; otherwise it replaces
	// it wholesale.
	Set(ctx context.Context, scope, key string, value []byte, merge bool) error

	// Subscribe invokes fn with the current document (if any) and then
	// with every subsequent write until the cancel function is called
	// or ctx is done.
	Subscribe(ctx context.Context, scope, key string, fn func(value []byte)) (cancel func(), err error)
}

// Metadata describes a persisted index snapshot.
type Metadata struct {
	LastUpdated  time.Time `json:"lastUpdated"`
	TotalRecords int       `json:"totalRecords"`
	TotalTags    int       `json:"totalTags"`
	Version      int       `json:"version"`
}

// Document is the persisted shape of a scope's tag index.
type Document struct {
	Entries  map[string]*index.Entry `json:"entries"`
	Metadata Metadata                `json:"metadata"`
}

// DecodeDocument parses a persisted index document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding index document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*index.Entry)
	}
	return &doc, nil
}

// Index converts the persisted entries back into an in-memory index.
func (d *Document) Index() index.Index {
	idx := make(index.Index, len(d.Entries))
	for tag, entry := range d.Entries {
		idx[tag] = entry.Clone()
	}
	return idx
}

// encodeDocument serializes the index plus metadata. Tags listed in
// removed are encoded as explicit JSON nulls so a merge-write deletes
// their persisted entries instead of leaving orphans behind.
func encodeDocument(idx index.Index, meta Metadata, removed []string) ([]byte, error) {
	entries := make(map[string]*index.Entry, len(idx)+len(removed))
	for tag, entry := range idx {
		entries[tag] = entry
	}
	for _, tag := range removed {
		entries[tag] = nil
	}
	return json.Marshal(Document{Entries: entries, Metadata: meta})
}

// MergePatch applies patch over existing with JSON merge-patch
// semantics (objects merge recursively, nulls delete, scalars and
// arrays replace). A nil existing document yields the patch with its
// nulls stripped.
func MergePatch(existing, patch []byte) ([]byte, error) {
	var patchVal any
	if err := json.Unmarshal(patch, &patchVal); err != nil {
		return nil, fmt.Errorf("decoding merge patch: %w", err)
	}

	var existingVal any
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &existingVal); err != nil {
			return nil, fmt.Errorf("decoding existing document: %w", err)
		}
	}

	merged := applyMerge(existingVal, patchVal)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged document: %w", err)
	}
	return out, nil
}

func applyMerge(dst, src any) any {
	srcMap, srcOK := src.(map[string]any)
	if !srcOK {
		return src
	}
	dstMap, dstOK := dst.(map[string]any)
	if !dstOK {
		dstMap = make(map[string]any, len(srcMap))
	}
	for k, v := range srcMap {
		if v == nil {
			delete(dstMap, k)
			continue
		}
		dstMap[k] = applyMerge(dstMap[k], v)
	}
	return dstMap
}
