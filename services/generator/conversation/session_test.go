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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeviceForge/services/llm"
)

// scriptedClient returns queued replies and records every call.
type scriptedClient struct {
	replies []string
	errs    []error
	calls   [][]llm.Message
	params  []llm.GenerationParams
}

func (c *scriptedClient) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	i := len(c.calls)
	c.calls = append(c.calls, messages)
	c.params = append(c.params, params)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func fixedNow() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestSession_SendCommitsBothTurns(t *testing.T) {
	client := &scriptedClient{replies: []string{"first reply", "second reply"}}
	s := NewSession(client, "be precise", SessionConfig{Now: fixedNow})

	reply, err := s.Send(context.Background(), "list devices", llm.GenerationParams{Temperature: llm.Float32(0.3)})
	require.NoError(t, err)
	assert.Equal(t, "first reply", reply)

	_, err = s.Send(context.Background(), "detail Conveyor", llm.GenerationParams{})
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "be precise"},
		{Role: llm.RoleUser, Content: "list devices"},
	}, client.calls[0])
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "be precise"},
		{Role: llm.RoleUser, Content: "list devices"},
		{Role: llm.RoleAssistant, Content: "first reply"},
		{Role: llm.RoleUser, Content: "detail Conveyor"},
	}, client.calls[1])
	assert.InDelta(t, 0.3, *client.params[0].Temperature, 0.0001)

	history := s.History()
	require.Len(t, history, 5)
	assert.Equal(t, fixedNow(), history[4].Timestamp)
}

func TestSession_FailedCallLeavesHistoryUntouched(t *testing.T) {
	client := &scriptedClient{
		replies: []string{"ok", ""},
		errs:    []error{nil, llm.ErrRateLimitExceeded},
	}
	s := NewSession(client, "sys", SessionConfig{MaxTurns: 2, MaxTokens: 1_000_000})

	_, err := s.Send(context.Background(), "one", llm.GenerationParams{})
	require.NoError(t, err)
	before := s.History()
	require.Len(t, before, 3)

	_, err = s.Send(context.Background(), "two", llm.GenerationParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrRateLimitExceeded))

	// The trim applied to the outbound list of the failed call is not committed.
	assert.Equal(t, before, s.History())
}

func TestSession_TrimsBeforeEachCall(t *testing.T) {
	client := &scriptedClient{replies: []string{"r1", "r2", "r3"}}
	s := NewSession(client, "sys", SessionConfig{MaxTurns: 3, MaxTokens: 1_000_000})

	for _, msg := range []string{"u1", "u2", "u3"} {
		_, err := s.Send(context.Background(), msg, llm.GenerationParams{})
		require.NoError(t, err)
	}

	// Third call: history [sys,u1,r1,u2,r2] trimmed to [sys,u2,r2] plus u3.
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "u2"},
		{Role: llm.RoleAssistant, Content: "r2"},
		{Role: llm.RoleUser, Content: "u3"},
	}, client.calls[2])
}

func TestSession_NoSystemPrompt(t *testing.T) {
	client := &scriptedClient{replies: []string{"r"}}
	s := NewSession(client, "", SessionConfig{})

	_, err := s.Send(context.Background(), "u", llm.GenerationParams{})
	require.NoError(t, err)

	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "u"}}, client.calls[0])
}
