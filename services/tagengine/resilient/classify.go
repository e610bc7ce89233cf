// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilient wraps fallible operations with classification-
// aware retry, graceful-degradation fallback, and an offline sync
// queue for mutations that fail due to connectivity.
package resilient

import (
	"strings"
)

// ErrorCode is the typed failure category reported after the retry
// budget is exhausted.
type ErrorCode string

const (
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	CodePermissionError ErrorCode = "PERMISSION_ERROR"
	CodeRateLimitError  ErrorCode = "RATE_LIMIT_ERROR"
	CodeUnknownError    ErrorCode = "UNKNOWN_ERROR"
)

// Classification is the result of inspecting one error.
type Classification struct {
	Code      ErrorCode
	Retryable bool
}

// Fixed message patterns per category, matched case-insensitively.
// Permission patterns are checked first: "403 forbidden" must never
// be treated as a retryable server error. Server 5xx responses are
// transport-level trouble and classified as network errors.
var (
	permissionPatterns = []string{
		"permission", "unauthorized", "forbidden", "access denied", "401", "403",
	}
	timeoutPatterns = []string{
		"timeout", "timed out", "deadline exceeded",
	}
	rateLimitPatterns = []string{
		"rate limit", "too many requests", "429", "quota exceeded",
	}
	networkPatterns = []string{
		"network", "connection", "dial", "dns", "offline", "unavailable",
		"broken pipe", "reset by peer", "no such host",
		"500", "502", "503", "504", "internal server error", "bad gateway",
	}
)

// Classify categorizes an error by message pattern matching against
// the fixed retryable categories (network, timeout, connection, rate
// limit, 5xx-class). Permission failures are terminal; anything
// unrecognized is unknown and not retried.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: CodeUnknownError}
	}
	msg := strings.ToLower(err.Error())

	switch {
	case matchesAny(msg, permissionPatterns):
		return Classification{Code: CodePermissionError, Retryable: false}
	case matchesAny(msg, timeoutPatterns):
		return Classification{Code: CodeTimeoutError, Retryable: true}
	case matchesAny(msg, rateLimitPatterns):
		return Classification{Code: CodeRateLimitError, Retryable: true}
	case matchesAny(msg, networkPatterns):
		return Classification{Code: CodeNetworkError, Retryable: true}
	default:
		return Classification{Code: CodeUnknownError, Retryable: false}
	}
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RecoveryStrategy tells the caller whether and how it can proceed
// after a terminal failure.
type RecoveryStrategy struct {
	CanRecover bool
	Action     string

	// FallbackData carries cached or degraded data when a fallback
	// produced it; nil otherwise.
	FallbackData any
}

// recoveryFor maps an exhausted failure to its recovery guidance.
func recoveryFor(code ErrorCode) RecoveryStrategy {
	switch code {
	case CodeNetworkError:
		return RecoveryStrategy{CanRecover: true, Action: "use cached data and queue the change for sync"}
	case CodeTimeoutError:
		return RecoveryStrategy{CanRecover: true, Action: "retry later with a smaller batch"}
	case CodeRateLimitError:
		return RecoveryStrategy{CanRecover: true, Action: "back off and retry after the limit window"}
	case CodePermissionError:
		return RecoveryStrategy{CanRecover: false, Action: "re-authenticate before retrying"}
	default:
		return RecoveryStrategy{CanRecover: false, Action: "inspect the error log and report the failure"}
	}
}
