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
	"errors"
	"strings"
)

// ErrNothingToSanitize is returned by SanitizeTag when stripping
// invalid characters leaves no tag content.
var ErrNothingToSanitize = errors.New("tag has no valid characters after sanitization")

// SanitizeTag is the best-effort counterpart of ValidateTag: instead
// of rejecting invalid characters it strips them, lowercases the rest,
// and prefixes the marker.
//
// SanitizeTag is idempotent: sanitizing an already sanitized value
// returns it unchanged.
//
// Inputs:
//
//	input - Raw tag text.
//
// Outputs:
//
//	string - Normalized tag, e.g. "#breakout".
//	error - ErrNothingToSanitize if no valid characters remain.
func SanitizeTag(input string) (string, error) {
	content := stripMarker(strings.TrimSpace(input))

	var b strings.Builder
	for _, r := range content {
		if isValidTagRune(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrNothingToSanitize
	}
	return Marker + strings.ToLower(b.String()), nil
}

// SanitizeTags sanitizes every tag in the list, dropping entries that
// cannot be sanitized and de-duplicating the survivors while keeping
// first-occurrence order.
func SanitizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		clean, err := SanitizeTag(tag)
		if err != nil {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
