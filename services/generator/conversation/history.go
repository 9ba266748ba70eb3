// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps bounded multi-turn memory for one generation
// run and sends it through an llm.ChatClient.
package conversation

import (
	"errors"
	"time"

	"github.com/AleutianAI/DeviceForge/services/llm"
)

// ErrEmptyRole is returned by Append for a message without a role.
var ErrEmptyRole = errors.New("conversation: message role is empty")

// Message is one immutable, role-tagged turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is an ordered list of messages with a trimming policy.
//
// # Thread Safety
//
// Not safe for concurrent use. A History belongs to one Session, which
// belongs to one generation run.
type History struct {
	messages  []Message
	estimator TokenEstimator
}

// NewHistory creates an empty history. A nil estimator means RuneEstimator.
func NewHistory(estimator TokenEstimator) *History {
	if estimator == nil {
		estimator = RuneEstimator
	}
	return &History{estimator: estimator}
}

// Append adds m at the end. Only an empty role is rejected.
func (h *History) Append(m Message) error {
	if m.Role == "" {
		return ErrEmptyRole
	}
	h.messages = append(h.messages, m)
	return nil
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// Messages returns a copy of the messages in insertion order.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Tokens returns the estimated token cost of all messages.
func (h *History) Tokens() int {
	total := 0
	for _, m := range h.messages {
		total += h.estimator(m.Content)
	}
	return total
}

// Clone returns an independent copy sharing the estimator.
func (h *History) Clone() *History {
	return &History{messages: h.Messages(), estimator: h.estimator}
}

// Trim evicts messages until both bounds hold.
//
// # Description
//
// While the history has more than maxTurns messages or more than
// maxTokens estimated tokens, the earliest non-system message is removed.
// When only system messages are left, the earliest message is removed
// regardless of role. The last remaining message is never removed, so a
// single oversized message survives.
//
// # Outputs
//
//   - int: Number of messages removed.
func (h *History) Trim(maxTurns, maxTokens int) int {
	tokens := h.Tokens()
	removed := 0

	for (len(h.messages) > maxTurns || tokens > maxTokens) && len(h.messages) > 1 {
		idx := h.firstNonSystem()
		if idx < 0 {
			idx = 0
		}
		tokens -= h.estimator(h.messages[idx].Content)
		h.messages = append(h.messages[:idx], h.messages[idx+1:]...)
		removed++
	}
	return removed
}

func (h *History) firstNonSystem() int {
	for i, m := range h.messages {
		if m.Role != llm.RoleSystem {
			return i
		}
	}
	return -1
}

// toLLM converts messages to the upstream wire form.
func toLLM(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
