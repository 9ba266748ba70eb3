// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrRateLimitExceeded is returned once the upstream kept answering 429
	// for every attempt in the retry budget.
	ErrRateLimitExceeded = errors.New("upstream rate limit exceeded")

	// ErrUpstreamUnavailable is returned once every attempt in the retry
	// budget failed at the transport level.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UpstreamError is a non-retryable failure reported by the upstream.
type UpstreamError struct {
	// StatusCode is the HTTP status of the failed call.
	StatusCode int

	// Detail is the upstream's error message or body excerpt.
	Detail string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream call failed (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream call failed (status %d): %s", e.StatusCode, e.Detail)
}

// IsRetryable reports whether err is one of the retry-exhaustion kinds.
// UpstreamError and anything unknown are not retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrUpstreamUnavailable)
}
