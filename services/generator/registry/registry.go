// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry stores pending generation requests as addressable,
// time-bounded connections.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownConnection is returned for an id that was never created or
	// has been reaped or deleted.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrIDExhausted is returned when the id generator keeps colliding.
	ErrIDExhausted = errors.New("could not allocate a unique connection id")
)

// DefaultTimeout is the age after which a connection is reaped.
const DefaultTimeout = 600 * time.Second

// maxIDAttempts bounds id regeneration on collision.
const maxIDAttempts = 3

// =============================================================================
// Types
// =============================================================================

// Connection is a pending generation request.
type Connection struct {
	ID        string
	Kind      datatypes.Kind
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Observer receives registry lifecycle notifications. May be nil.
type Observer interface {
	ObserveConnectionCreated(kind string)
	ObserveConnectionsReaped(n int)
}

// Config configures a Registry.
//
// # Fields
//
//   - Timeout: Age after which Reap removes a connection. Default: 600s.
//   - Now: Clock. Default: time.Now.
//   - NewID: Id generator. Default: random UUIDv4.
//   - Observer: Optional lifecycle observer.
type Config struct {
	Timeout  time.Duration
	Now      func() time.Time
	NewID    func() string
	Observer Observer
}

// Registry is the process-wide table of pending connections.
//
// # Description
//
// Every operation holds the registry lock for its whole duration, so a
// Consume racing a Reap on the same id either sees the complete record or
// gets ErrUnknownConnection.
//
// Consume does not delete. A stream may be reopened for the same id until
// the record is reaped or explicitly deleted.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]Connection
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
	observer Observer
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Registry{
		records:  make(map[string]Connection),
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		newID:    cfg.NewID,
		observer: cfg.Observer,
	}
}

// Create stores a new connection and returns its id.
//
// # Inputs
//
//   - kind: Generation kind. Must be one of the closed set.
//   - payload: Kind-specific request data. Copied.
//
// # Outputs
//
//   - string: The new connection id.
//   - error: datatypes.ErrUnknownKind or ErrIDExhausted.
func (r *Registry) Create(kind datatypes.Kind, payload json.RawMessage) (string, error) {
	if _, err := datatypes.ParseKind(string(kind)); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := r.newID()
		if _, exists := r.records[id]; exists {
			slog.Warn("Connection id collision, regenerating", "attempt", attempt+1)
			continue
		}
		r.records[id] = Connection{
			ID:        id,
			Kind:      kind,
			Payload:   append(json.RawMessage(nil), payload...),
			CreatedAt: r.now(),
		}
		if r.observer != nil {
			r.observer.ObserveConnectionCreated(string(kind))
		}
		slog.Info("Connection created", "connection_id", id, "kind", kind)
		return id, nil
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIDExhausted, maxIDAttempts)
}

// Consume returns the connection stored under id without removing it.
//
// # Outputs
//
//   - Connection: A copy of the record.
//   - error: ErrUnknownConnection if absent.
func (r *Registry) Consume(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.records[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	conn.Payload = append(json.RawMessage(nil), conn.Payload...)
	return conn, nil
}

// Delete removes id. It reports whether a record was present.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// Reap removes every connection older than the timeout and returns how
// many were removed. A connection exactly timeout old is kept.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, conn := range r.records {
		if now.Sub(conn.CreatedAt) > r.timeout {
			delete(r.records, id)
			removed++
		}
	}
	if removed > 0 && r.observer != nil {
		r.observer.ObserveConnectionsReaped(removed)
	}
	return removed
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Timeout returns the configured reap age.
func (r *Registry) Timeout() time.Duration { return r.timeout }
