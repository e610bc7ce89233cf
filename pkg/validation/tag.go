// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation implements the tag grammar for trade-journal tags.
//
// A well-formed tag is a '#'-prefixed, lowercase string of [a-z0-9_],
// 1-50 characters of content, and not a reserved word. Validation is a
// pure function: problems are reported as structured issues, never as
// errors or panics, so callers can distinguish blocking errors from
// advisory warnings and still obtain a sanitized best-effort value.
package validation

import (
	"strings"
)

// Tag grammar limits.
const (
	// Marker is the required leading character of a normalized tag.
	Marker = "#"

	// MinContentLength and MaxContentLength bound the tag content,
	// marker excluded.
	MinContentLength = 1
	MaxContentLength = 50

	// LongContentThreshold is the content length above which a tag is
	// flagged as unusually long (warning only).
	LongContentThreshold = 20

	// DefaultMaxTags is the default per-record tag cardinality cap.
	DefaultMaxTags = 20
)

// Issue codes reported by ValidateTag and ValidateTags. Codes prefixed
// TAG_ originate from single-tag grammar rules; the remainder from set
// level rules.
const (
	CodeTagNull             = "TAG_NULL"
	CodeTagEmpty            = "TAG_EMPTY"
	CodeTagNoHash           = "TAG_NO_HASH"
	CodeTagTooShort         = "TAG_TOO_SHORT"
	CodeTagTooLong          = "TAG_TOO_LONG"
	CodeTagInvalidChars     = "TAG_INVALID_CHARS"
	CodeTagReservedWord     = "TAG_RESERVED_WORD"
	CodeTagStartsWithNumber = "TAG_STARTS_WITH_NUMBER"
	CodeTagVeryLong         = "TAG_VERY_LONG"
	CodeTagMultiUnderscore  = "TAG_MULTIPLE_UNDERSCORES"
	CodeTooManyTags         = "TOO_MANY_TAGS"
	CodeDuplicateTags       = "DUPLICATE_TAGS"
	CodeSimilarTags         = "SIMILAR_TAGS"
)

// reservedWords cannot be used as tag content (case-insensitive).
// They collide with literal tokens in serialized payloads.
var reservedWords = map[string]struct{}{
	"null":      {},
	"undefined": {},
	"true":      {},
	"false":     {},
}

// IsReservedWord reports whether content (marker excluded) is reserved.
func IsReservedWord(content string) bool {
	_, ok := reservedWords[strings.ToLower(content)]
	return ok
}

// Issue is one validation finding. Field is empty for single-tag
// validation and "tag[i]" for findings attributed to position i of a
// tag set.
type Issue struct {
	Code    string
	Field   string
	Message string
}

// Normalize returns the canonical form of a tag: trimmed, lowercased,
// with exactly one leading marker. It does not validate; pair it with
// ValidateTag when acceptance matters.
func Normalize(tag string) string {
	content := stripMarker(strings.TrimSpace(tag))
	return Marker + strings.ToLower(content)
}

// stripMarker removes a single leading marker if present.
func stripMarker(s string) string {
	return strings.TrimPrefix(s, Marker)
}

func isValidTagRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_'
}
