// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ParseLevel Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	require.ErrorIs(t, err, ErrUnknownLevel)
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_TextOutputWithService(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Service: "deviceforge", Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("Connection created", "connection_id", "abc")
	logger.Slog().Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "Connection created")
	assert.Contains(t, out, "connection_id=abc")
	assert.Contains(t, out, "service=deviceforge")
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", JSON: true, Output: &buf})
	require.NoError(t, err)

	logger.Slog().Debug("Generation run state changed", "to", "closed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Generation run state changed", record["msg"])
	assert.Equal(t, "closed", record["to"])
}

func TestNew_UnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	require.ErrorIs(t, err, ErrUnknownLevel)
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Quiet: true, Output: &buf})
	require.NoError(t, err)

	logger.Slog().Error("dropped")
	assert.Empty(t, buf.String())
}

func TestNew_DailyFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, err := New(Config{Dir: dir, Service: "deviceforge", Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("Generation run closed", "status", "success")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	name := "deviceforge_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Generation run closed"`)
	assert.Contains(t, buf.String(), "Generation run closed")
}

func TestNew_DefaultFileName(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Dir: dir, Quiet: true})
	require.NoError(t, err)
	defer logger.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "deviceforge_"))
}

func TestNew_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := New(Config{Dir: filepath.Join(blocker, "logs")})
	require.Error(t, err)
}

func TestLogger_Install(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)
	logger.Install()

	slog.Info("through the default")
	assert.Contains(t, buf.String(), "through the default")
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}))
	logger.Info("info line")
	logger.Error("error line")

	assert.Contains(t, debugBuf.String(), "info line")
	assert.Contains(t, debugBuf.String(), "error line")
	assert.Contains(t, debugBuf.String(), "k=v")
	assert.NotContains(t, errorBuf.String(), "info line")
	assert.Contains(t, errorBuf.String(), "error line")
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&buf, nil)}}

	slog.New(h.WithGroup("run")).Info("grouped", "id", "x")
	assert.Contains(t, buf.String(), "run.id=x")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "", expandPath(""))
}
