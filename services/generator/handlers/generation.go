// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the generation service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/pipeline"
	"github.com/AleutianAI/DeviceForge/services/generator/registry"
)

// DefaultKeepAliveInterval is the ping interval of an open stream.
const DefaultKeepAliveInterval = 15 * time.Second

// ConnectionStore stores new connections. Implemented by
// *registry.Registry.
type ConnectionStore interface {
	Create(kind datatypes.Kind, payload json.RawMessage) (string, error)
}

// Streamer runs the generation of a stored connection. Implemented by
// *pipeline.Orchestrator.
type Streamer interface {
	Stream(ctx context.Context, connectionID string, sink pipeline.EventSink) error
}

// =============================================================================
// Connection creation
// =============================================================================

// HandleCreateConnection handles POST /v1/connections.
//
// # Description
//
// Body: {"kind": "...", "payload": {...}}. The kind and the payload are
// validated before anything is stored.
//
// # Outputs
//
//   - 201 CreateConnectionResponse.
//   - 400 ErrorResponse for a malformed body, unknown kind or bad payload.
func HandleCreateConnection(store ConnectionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateConnectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		kind, err := req.Validate()
		if err != nil {
			respondCreateError(c, err)
			return
		}
		createConnection(c, store, kind, req.Payload)
	}
}

// HandleCreateProject handles POST /v1/projects, the project_creation
// shorthand: {"conf": "<project payload as a JSON string>"}.
func HandleCreateProject(store ConnectionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		payload, err := req.Validate()
		if err != nil {
			respondCreateError(c, err)
			return
		}
		createConnection(c, store, datatypes.KindProjectCreation, payload)
	}
}

// HandleCreateRecommendation handles POST /v1/recommendations, the
// ai_recommend shorthand: {"prompt": "..."}.
func HandleCreateRecommendation(store ConnectionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateRecommendationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		payload, err := json.Marshal(req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to encode request"})
			return
		}
		if err := datatypes.ValidatePayload(datatypes.KindAIRecommend, payload); err != nil {
			respondCreateError(c, err)
			return
		}
		createConnection(c, store, datatypes.KindAIRecommend, payload)
	}
}

func createConnection(c *gin.Context, store ConnectionStore, kind datatypes.Kind, payload json.RawMessage) {
	id, err := store.Create(kind, payload)
	if err != nil {
		respondCreateError(c, err)
		return
	}
	c.JSON(http.StatusCreated, datatypes.CreateConnectionResponse{ConnectionID: id, Kind: kind})
}

func respondCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrUnknownKind), errors.Is(err, datatypes.ErrInvalidPayload):
		slog.Warn("Rejected connection request", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
	default:
		slog.Error("Failed to create connection", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to create connection"})
	}
}

// =============================================================================
// Streaming
// =============================================================================

// HandleStream handles GET /v1/connections/:connectionId/stream.
//
// # Description
//
// Runs the generation of the connection and streams its events as SSE.
// The run is detached from the request context, so a client that goes
// away does not cancel upstream calls; frames are dropped from then on.
// While the run is active an SSE comment is sent every keepAlive.
//
// # Outputs
//
//   - SSE stream ending with a close event.
//   - 404 ErrorResponse if the connection is unknown.
func HandleStream(streamer Streamer, keepAlive time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("connectionId")

		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("Streaming not supported", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Streaming not supported"})
			return
		}

		ctx := context.WithoutCancel(c.Request.Context())
		stop := startKeepAlive(writer, keepAlive)
		err = streamer.Stream(ctx, id, writer)
		stop()

		if err == nil {
			return
		}
		if writer.Started() {
			slog.Debug("Stream finished with error", "connection_id", id, "error", err)
			return
		}
		if errors.Is(err, registry.ErrUnknownConnection) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "connection not found"})
			return
		}
		slog.Error("Stream failed before the first event", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to start stream"})
	}
}

// startKeepAlive pings w every interval until the returned stop function
// is called. stop waits for the pinger to exit.
func startKeepAlive(w SSEWriter, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.WriteKeepAlive(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
