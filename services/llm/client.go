// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the single call boundary between DeviceForge and the hosted
// chat-completion model.
//
// Retries and backoff live entirely inside this package. Callers see either
// the final reply text or exactly one of the error kinds declared in
// errors.go.
package llm

import "context"

// Chat roles accepted by the upstream API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries per-call sampling settings. Nil pointers fall
// back to the client defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	TopP        *float32 `json:"top_p"`
	Stop        []string `json:"stop"`
}

// Usage is the token accounting reported by the upstream for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatClient defines the contract for a chat-completion backend.
//
// # Description
//
// Chat sends the full message list and returns the assistant text. All
// retry handling happens inside Chat; a returned error is final.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Many generation runs
// share one client.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Float32 returns a pointer to v. Handy for building GenerationParams.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
