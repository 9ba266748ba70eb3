// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract recovers a JSON object or array from free-form model
// output.
package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Tier identifies which strategy recovered the value.
type Tier int

const (
	TierNone Tier = iota
	TierDirect
	TierFenced
	TierBracketScan
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierFenced:
		return "fenced"
	case TierBracketScan:
		return "bracket_scan"
	default:
		return "none"
	}
}

// Reason classifies an ExtractionError.
type Reason string

const (
	ReasonNoBracket  Reason = "no_opening_bracket"
	ReasonUnbalanced Reason = "unbalanced"
	ReasonInvalid    Reason = "invalid_json"
	ReasonShape      Reason = "unexpected_shape"
)

// ExtractionError reports malformed model output.
type ExtractionError struct {
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	switch e.Reason {
	case ReasonNoBracket:
		return "no JSON content found"
	case ReasonUnbalanced:
		return "JSON content is incomplete"
	}
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s)", e.Reason)
}

// Unwrap returns the underlying decode error, if any.
func (e *ExtractionError) Unwrap() error { return e.Err }

// fencedJSON matches the first ```json fenced block.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

// JSON recovers the first JSON object or array embedded in text.
//
// # Description
//
// Three strategies run in order and the first success wins; a failing
// strategy falls through to the next one:
//
//  1. the whole trimmed text parses as an object or array;
//  2. the body of the first ```json fenced block parses;
//  3. from the first '{' or '[', brackets of that kind are depth-counted
//     until depth returns to zero and the inclusive span is parsed.
//
// Bracket characters inside strings are counted like any other.
//
// # Outputs
//
//   - any: map[string]any or []any.
//   - error: *ExtractionError.
func JSON(text string) (any, error) {
	v, _, err := JSONWithTier(text)
	return v, err
}

// JSONWithTier is JSON that also reports which strategy succeeded.
func JSONWithTier(text string) (any, Tier, error) {
	raw, tier, err := Raw(text)
	if err != nil {
		return nil, TierNone, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, TierNone, &ExtractionError{Reason: ReasonInvalid, Err: err}
	}
	return v, tier, nil
}

// Into recovers the embedded JSON and decodes it into dst.
//
// # Outputs
//
//   - error: *ExtractionError when recovery or decoding fails, including
//     a value whose shape does not fit dst.
func Into(text string, dst any) error {
	raw, _, err := Raw(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ExtractionError{Reason: ReasonShape, Err: err}
	}
	return nil
}

// Raw returns the bytes of the recovered JSON value without decoding it.
func Raw(text string) (json.RawMessage, Tier, error) {
	content := strings.TrimSpace(text)

	if isComposite(content) {
		return json.RawMessage(content), TierDirect, nil
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		inner := strings.TrimSpace(m[1])
		if isComposite(inner) {
			return json.RawMessage(inner), TierFenced, nil
		}
		slog.Debug("Fenced JSON block did not parse, scanning for brackets")
	}

	span, err := bracketSpan(content)
	if err != nil {
		return nil, TierNone, err
	}
	if !json.Valid([]byte(span)) {
		var v any
		decodeErr := json.Unmarshal([]byte(span), &v)
		return nil, TierNone, &ExtractionError{Reason: ReasonInvalid, Err: decodeErr}
	}
	return json.RawMessage(span), TierBracketScan, nil
}

// isComposite reports whether s is valid JSON whose top level is an
// object or array.
func isComposite(s string) bool {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}

// bracketSpan returns the text from the first '{' or '[' to its matching
// closer, counting only brackets of the opening kind.
func bracketSpan(content string) (string, error) {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return "", &ExtractionError{Reason: ReasonNoBracket}
	}
	open := content[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}
	return "", &ExtractionError{Reason: ReasonUnbalanced}
}
