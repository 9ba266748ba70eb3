// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import "unicode/utf8"

// TokenEstimator returns the estimated token cost of one message body.
//
// # Description
//
// Trimming only depends on this function type, so a real tokenizer can be
// plugged in through SessionConfig.Estimator without touching History.
type TokenEstimator func(content string) int

// runeTokenMultiplier is the tokens-per-character heuristic. One CJK
// character costs roughly two tokens on the hosted models.
const runeTokenMultiplier = 2

// RuneEstimator is the default TokenEstimator: character count times two.
func RuneEstimator(content string) int {
	return utf8.RuneCountInString(content) * runeTokenMultiplier
}
