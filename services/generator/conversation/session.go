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

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/DeviceForge/services/llm"
)

const (
	// DefaultMaxTurns is the history length kept between calls.
	DefaultMaxTurns = 15

	// DefaultMaxTokens is the estimated context budget kept between calls.
	DefaultMaxTokens = 6000
)

// SessionConfig bounds the memory of a Session.
type SessionConfig struct {
	MaxTurns  int
	MaxTokens int
	Estimator TokenEstimator
	Now       func() time.Time
}

// Session is a memory-preserving dialogue with the model.
//
// # Description
//
// Every Send trims a working copy of the history, sends it with the new
// user turn and, only when the call succeeds, commits the trimmed history
// together with the user turn and the assistant reply. A failed call
// leaves the committed history untouched.
//
// # Thread Safety
//
// Not safe for concurrent use. One Session belongs to one generation run.
type Session struct {
	client  llm.ChatClient
	history *History
	config  SessionConfig
}

// NewSession creates a session seeded with systemPrompt. An empty
// systemPrompt seeds nothing.
func NewSession(client llm.ChatClient, systemPrompt string, cfg SessionConfig) *Session {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		client:  client,
		history: NewHistory(cfg.Estimator),
		config:  cfg,
	}
	if systemPrompt != "" {
		_ = s.history.Append(Message{Role: llm.RoleSystem, Content: systemPrompt, Timestamp: cfg.Now()})
	}
	return s
}

// Send runs one conversational turn.
//
// # Inputs
//
//   - ctx: Passed to the upstream call.
//   - userMessage: The new user turn.
//   - params: Sampling settings for this call.
//
// # Outputs
//
//   - string: The assistant reply.
//   - error: The upstream error, wrapped. History is unchanged.
func (s *Session) Send(ctx context.Context, userMessage string, params llm.GenerationParams) (string, error) {
	working := s.history.Clone()
	if removed := working.Trim(s.config.MaxTurns, s.config.MaxTokens); removed > 0 {
		slog.Debug("Trimmed conversation history",
			"removed", removed, "remaining", working.Len(), "tokens", working.Tokens())
	}

	userTurn := Message{Role: llm.RoleUser, Content: userMessage, Timestamp: s.config.Now()}
	outbound := append(toLLM(working.messages), llm.Message{Role: userTurn.Role, Content: userTurn.Content})

	reply, err := s.client.Chat(ctx, outbound, params)
	if err != nil {
		return "", fmt.Errorf("conversation turn failed: %w", err)
	}

	_ = working.Append(userTurn)
	_ = working.Append(Message{Role: llm.RoleAssistant, Content: reply, Timestamp: s.config.Now()})
	s.history = working

	slog.Debug("Conversation turn completed", "history_len", working.Len())
	return reply, nil
}

// History returns a copy of the committed messages.
func (s *Session) History() []Message { return s.history.Messages() }
