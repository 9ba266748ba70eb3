// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the generator
// service: generation kinds, request payloads, device models and progress
// events.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which generation pipeline a connection runs.
type Kind string

const (
	// KindProjectCreation runs the two-stage device list + device detail pipeline.
	KindProjectCreation Kind = "project_creation"

	// KindAIRecommend runs the single-stage system recommendation pipeline.
	KindAIRecommend Kind = "ai_recommend"
)

// ErrUnknownKind is returned by ParseKind for anything outside the closed set.
var ErrUnknownKind = errors.New("unknown generation kind")

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindProjectCreation, KindAIRecommend}
}

// ParseKind converts untrusted input into a Kind.
//
// # Description
//
// Only the exact names of the closed set are accepted, after trimming
// surrounding whitespace. Case is significant.
//
// # Outputs
//
//   - Kind: The parsed kind.
//   - error: Wraps ErrUnknownKind for anything else.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	switch k {
	case KindProjectCreation, KindAIRecommend:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
