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

// Near-duplicate detection thresholds. Pairs scoring strictly between
// the two bounds are flagged as possible typos; identical tags are
// exact duplicates and handled separately.
const (
	similarityFloor   = 0.8
	similarityCeiling = 1.0
)

// SimilarPair is one near-duplicate finding within a tag batch.
type SimilarPair struct {
	A      string
	B      string
	IndexA int
	IndexB int
	Score  float64
}

// Similarity returns normalized Levenshtein similarity in [0, 1]:
// (maxLen - editDistance) / maxLen. Two empty strings score 1.
func Similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return float64(maxLen-levenshtein(a, b)) / float64(maxLen)
}

// FindSimilarPairs scores every unordered pair in the batch and
// returns the ones that look like typos of each other.
//
// Complexity is O(n² · L²) per batch, which is acceptable under the
// per-record tag cap. Do not call this across a full record set.
func FindSimilarPairs(tags []string) []SimilarPair {
	var pairs []SimilarPair
	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			score := Similarity(tags[i], tags[j])
			if score > similarityFloor && score < similarityCeiling {
				pairs = append(pairs, SimilarPair{
					A:      tags[i],
					B:      tags[j],
					IndexA: i,
					IndexB: j,
					Score:  score,
				})
			}
		}
	}
	return pairs
}

// levenshtein computes edit distance with the classic two-row dynamic
// program, O(len(a)·len(b)) time and O(len(b)) space.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
