// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"strings"
)

// Result is the outcome of validating a single tag.
//
// IsValid is true exactly when Errors is empty; Warnings never block
// acceptance. Sanitized is the normalized form ('#' + lowercase
// content) and is populated whenever the input has any content at all,
// even if errors were found, so callers can offer a corrected value.
type Result struct {
	IsValid   bool
	Errors    []Issue
	Warnings  []Issue
	Sanitized string
}

// SetResult is the outcome of validating a tag set.
type SetResult struct {
	IsValid   bool
	Errors    []Issue
	Warnings  []Issue
	Sanitized []string
}

// ValidateTag checks a single raw tag against the grammar.
//
// Rules are applied in a fixed order and reported independently:
// empty input, missing marker (warning), content length bounds,
// character set, reserved words, leading digit (warning), unusual
// length (warning), and runs of three or more underscores (warning).
//
// Inputs:
//
//	input - Raw tag text, with or without the leading marker.
//
// Outputs:
//
//	Result - Structured findings plus a sanitized value. Never panics.
func ValidateTag(input string) Result {
	var res Result

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagEmpty,
			Message: "tag cannot be empty or whitespace",
		})
		return res
	}

	if !strings.HasPrefix(trimmed, Marker) {
		res.Warnings = append(res.Warnings, Issue{
			Code:    CodeTagNoHash,
			Message: fmt.Sprintf("tag %q is missing the leading %s marker", trimmed, Marker),
		})
	}
	content := stripMarker(trimmed)

	if len(content) < MinContentLength {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagTooShort,
			Message: fmt.Sprintf("tag content must be at least %d character", MinContentLength),
		})
	}
	if len(content) > MaxContentLength {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagTooLong,
			Message: fmt.Sprintf("tag content exceeds %d characters (got %d)", MaxContentLength, len(content)),
		})
	}

	if bad := invalidRunes(content); len(bad) > 0 {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagInvalidChars,
			Message: fmt.Sprintf("tag contains invalid characters: %s (allowed: letters, digits, underscore)", strings.Join(bad, " ")),
		})
	}

	if IsReservedWord(content) {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagReservedWord,
			Message: fmt.Sprintf("%q is a reserved word and cannot be used as a tag", strings.ToLower(content)),
		})
	}

	if len(content) > 0 && content[0] >= '0' && content[0] <= '9' {
		res.Warnings = append(res.Warnings, Issue{
			Code:    CodeTagStartsWithNumber,
			Message: "tags starting with a number can be hard to read",
		})
	}

	if len(content) > LongContentThreshold {
		res.Warnings = append(res.Warnings, Issue{
			Code:    CodeTagVeryLong,
			Message: fmt.Sprintf("tag content longer than %d characters is discouraged", LongContentThreshold),
		})
	}

	if strings.Contains(content, "___") {
		res.Warnings = append(res.Warnings, Issue{
			Code:    CodeTagMultiUnderscore,
			Message: "tag contains three or more consecutive underscores",
		})
	}

	if len(content) > 0 {
		res.Sanitized = Marker + strings.ToLower(content)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// invalidRunes returns the distinct offending characters in order of
// first appearance, quoted for display.
func invalidRunes(content string) []string {
	seen := make(map[rune]struct{})
	var bad []string
	for _, r := range content {
		if isValidTagRune(r) {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		bad = append(bad, fmt.Sprintf("%q", r))
	}
	return bad
}

// SetOption configures ValidateTags.
type SetOption func(*setConfig)

type setConfig struct {
	maxTags int
}

// WithMaxTags overrides the default cardinality cap.
func WithMaxTags(n int) SetOption {
	return func(c *setConfig) { c.maxTags = n }
}

// ValidateTags checks a whole tag set: shape, cardinality, per-tag
// grammar, exact duplicates after normalization, and near-duplicates
// (possible typos, warning only).
//
// Findings attributed to one position carry Field "tag[i]".
//
// Inputs:
//
//	tags - The raw tag list. A nil list is rejected.
//	opts - Optional WithMaxTags override (default 20).
//
// Outputs:
//
//	SetResult - Aggregated findings plus sanitized values per position.
func ValidateTags(tags []string, opts ...SetOption) SetResult {
	cfg := setConfig{maxTags: DefaultMaxTags}
	for _, opt := range opts {
		opt(&cfg)
	}

	var res SetResult
	if tags == nil {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTagNull,
			Message: "tags must be a list, got null",
		})
		return res
	}

	if len(tags) > cfg.maxTags {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeTooManyTags,
			Message: fmt.Sprintf("too many tags: %d exceeds the maximum of %d", len(tags), cfg.maxTags),
		})
	}

	res.Sanitized = make([]string, len(tags))
	normalized := make([]string, len(tags))
	for i, tag := range tags {
		tagRes := ValidateTag(tag)
		field := fmt.Sprintf("tag[%d]", i)
		for _, issue := range tagRes.Errors {
			issue.Field = field
			res.Errors = append(res.Errors, issue)
		}
		for _, issue := range tagRes.Warnings {
			issue.Field = field
			res.Warnings = append(res.Warnings, issue)
		}
		res.Sanitized[i] = tagRes.Sanitized
		normalized[i] = Normalize(tag)
	}

	res.Errors = append(res.Errors, duplicateIssues(normalized)...)
	for _, pair := range FindSimilarPairs(normalized) {
		res.Warnings = append(res.Warnings, Issue{
			Code:  CodeSimilarTags,
			Field: fmt.Sprintf("tag[%d]", pair.IndexB),
			Message: fmt.Sprintf("tags %q and %q are very similar (%.0f%%), possible typo",
				pair.A, pair.B, pair.Score*100),
		})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// duplicateIssues reports exact duplicates after normalization,
// listing every position each duplicated value occupies.
func duplicateIssues(normalized []string) []Issue {
	positions := make(map[string][]int)
	order := make([]string, 0, len(normalized))
	for i, tag := range normalized {
		if _, seen := positions[tag]; !seen {
			order = append(order, tag)
		}
		positions[tag] = append(positions[tag], i)
	}

	var issues []Issue
	for _, tag := range order {
		idx := positions[tag]
		if len(idx) < 2 {
			continue
		}
		fields := make([]string, len(idx))
		for i, p := range idx {
			fields[i] = fmt.Sprintf("tag[%d]", p)
		}
		issues = append(issues, Issue{
			Code:    CodeDuplicateTags,
			Field:   strings.Join(fields, ","),
			Message: fmt.Sprintf("duplicate tag %q at positions %v", tag, idx),
		})
	}
	return issues
}
