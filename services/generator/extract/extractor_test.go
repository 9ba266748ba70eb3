// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     any
		wantTier Tier
	}{
		{
			name:     "direct object",
			input:    `{"a":1}`,
			want:     map[string]any{"a": float64(1)},
			wantTier: TierDirect,
		},
		{
			name:     "direct array with surrounding whitespace",
			input:    "\n  [\"ConveyorBelt\"]  \n",
			want:     []any{"ConveyorBelt"},
			wantTier: TierDirect,
		},
		{
			name:     "fenced block",
			input:    "Here is the list:\n```json\n[1,2,3]\n```\nHope this helps.",
			want:     []any{float64(1), float64(2), float64(3)},
			wantTier: TierFenced,
		},
		{
			name:     "bracket scan with nesting",
			input:    `noise {"a":{"b":1}} trailing`,
			want:     map[string]any{"a": map[string]any{"b": float64(1)}},
			wantTier: TierBracketScan,
		},
		{
			name:     "broken fence falls through to scan",
			input:    "```json\nnot json\n```\nactually: [1]",
			want:     []any{float64(1)},
			wantTier: TierBracketScan,
		},
		{
			name:     "array scan ignores braces",
			input:    `devices: [{"device":"A"},{"device":"B"}] done`,
			want:     []any{map[string]any{"device": "A"}, map[string]any{"device": "B"}},
			wantTier: TierBracketScan,
		},
		{
			name:     "bare scalar is not accepted directly",
			input:    `42 then {"x":true}`,
			want:     map[string]any{"x": true},
			wantTier: TierBracketScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tier, err := JSONWithTier(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantTier, tier)
		})
	}
}

func TestJSON_Failures(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantReason Reason
	}{
		{name: "no brackets", input: "no brackets here", wantReason: ReasonNoBracket},
		{name: "empty", input: "   ", wantReason: ReasonNoBracket},
		{name: "never closes", input: `start {"a": {"b": 1}`, wantReason: ReasonUnbalanced},
		{name: "balanced but invalid", input: `see {a: 1}`, wantReason: ReasonInvalid},
		{name: "brace inside string unbalances scan", input: `x {"a": "}"`, wantReason: ReasonInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSON(tt.input)
			var extErr *ExtractionError
			require.True(t, errors.As(err, &extErr), "got %v", err)
			assert.Equal(t, tt.wantReason, extErr.Reason)
		})
	}
}

func TestInto(t *testing.T) {
	type device struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}

	t.Run("decodes object", func(t *testing.T) {
		var d device
		require.NoError(t, Into("Config:\n```json\n{\"name\":\"Elevator\"}\n```", &d))
		assert.Equal(t, "Elevator", d.Name)
	})

	t.Run("shape mismatch is an extraction error", func(t *testing.T) {
		var d device
		err := Into(`[{"name":"Elevator"}]`, &d)
		var extErr *ExtractionError
		require.True(t, errors.As(err, &extErr))
		assert.Equal(t, ReasonShape, extErr.Reason)
	})

	t.Run("prose fails", func(t *testing.T) {
		var d device
		err := Into("I cannot help with that.", &d)
		var extErr *ExtractionError
		require.True(t, errors.As(err, &extErr))
	})
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "direct", TierDirect.String())
	assert.Equal(t, "fenced", TierFenced.String())
	assert.Equal(t, "bracket_scan", TierBracketScan.String())
	assert.Equal(t, "none", TierNone.String())
}
