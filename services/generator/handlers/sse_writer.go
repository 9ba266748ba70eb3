// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/pipeline"
)

// ErrStreamClosed is returned by writes after a previous write failed.
var ErrStreamClosed = errors.New("event stream closed")

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes generation events as Server-Sent Events.
//
// # Description
//
// Each event is written as
//
//	event: {name}
//	data: {json}
//
// and flushed immediately. Headers are committed by the first write, so a
// handler can still answer with a plain JSON error as long as nothing has
// been written.
//
// # Thread Safety
//
// Safe for concurrent use; keepalive pings may interleave with events.
type SSEWriter interface {
	pipeline.EventSink

	// WriteKeepAlive sends an SSE comment. It writes nothing before the
	// first event.
	WriteKeepAlive() error

	// Started reports whether any event has been written.
	Started() bool
}

// =============================================================================
// Wire payloads
// =============================================================================

type statusFrame struct {
	Message      string `json:"message"`
	Progress     int    `json:"progress"`
	NextProgress *int   `json:"next_progress,omitempty"`
	EstimateTime *int   `json:"estimate_time,omitempty"`
	Replace      bool   `json:"replace,omitempty"`
}

type deviceFrame struct {
	Device   string                  `json:"device"`
	Config   *datatypes.DeviceConfig `json:"config"`
	Progress int                     `json:"progress"`
}

type completeFrame struct {
	Result any `json:"result"`
}

type messageFrame struct {
	Message string `json:"message"`
}

// FormatEvent encodes one event as a complete SSE frame.
//
// # Outputs
//
//   - []byte: "event: <name>\ndata: <json>\n\n".
//   - error: Non-nil if the event kind is unknown or marshaling failed.
func FormatEvent(ev datatypes.ProgressEvent) ([]byte, error) {
	var payload any
	switch ev.Kind {
	case datatypes.EventStatus:
		payload = statusFrame{
			Message:      ev.Message,
			Progress:     ev.Percent,
			NextProgress: ev.NextPercent,
			EstimateTime: ev.EstimateSeconds,
			Replace:      ev.Replace,
		}
	case datatypes.EventDeviceResult:
		payload = deviceFrame{Device: ev.Device, Config: ev.Config, Progress: ev.Percent}
	case datatypes.EventComplete:
		payload = completeFrame{Result: ev.Result}
	case datatypes.EventError, datatypes.EventClose:
		payload = messageFrame{Message: ev.Message}
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Kind.WireName(), data), nil
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying response.
//   - flusher: Flushes after every frame.
//   - started: Headers have been committed.
//   - failed: A write failed; later writes return ErrStreamClosed.
//   - mu: Serializes writes.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  bool
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for w.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: Non-nil if w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// Send implements pipeline.EventSink.
func (w *sseWriter) Send(ev datatypes.ProgressEvent) error {
	frame, err := FormatEvent(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(frame)
}

// WriteKeepAlive sends ": ping" so idle proxies keep the connection open
// during long upstream calls.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	return w.writeLocked([]byte(": ping\n\n"))
}

func (w *sseWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *sseWriter) writeLocked(frame []byte) error {
	if w.failed {
		return ErrStreamClosed
	}
	if !w.started {
		SetSSEHeaders(w.writer)
		w.writer.WriteHeader(http.StatusOK)
		w.started = true
	}
	if _, err := w.writer.Write(frame); err != nil {
		w.failed = true
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response headers for SSE streaming.
// Must be called before anything is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
