// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Reaper
// =============================================================================

// DefaultReapInterval is how often the reaper runs.
const DefaultReapInterval = 1800 * time.Second

// Reapable is anything the Reaper can sweep. Implemented by *Registry.
type Reapable interface {
	Reap() int
	Len() int
}

// ReaperConfig holds configuration for the background reaper.
//
// # Fields
//
//   - Interval: How often to run a sweep. Default: 1800s.
type ReaperConfig struct {
	Interval time.Duration
}

// DefaultReaperConfig returns the production reaper configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{Interval: DefaultReapInterval}
}

// Reaper periodically removes expired connections.
//
// # Description
//
// Manages one background goroutine using the ticker + done channel
// pattern. A sweep runs immediately on Start and then once per interval
// until Stop is called or the Start context is cancelled.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Reaper struct {
	target  Reapable
	config  ReaperConfig
	done    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewReaper creates a reaper for target. Call Start to run it.
func NewReaper(target Reapable, config ReaperConfig) *Reaper {
	if config.Interval <= 0 {
		config.Interval = DefaultReapInterval
	}
	return &Reaper{
		target: target,
		config: config,
	}
}

// Start launches the background loop.
//
// # Inputs
//
//   - ctx: Cancelling it stops the loop.
//
// # Outputs
//
//   - error: Non-nil if the reaper is already running.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reaper is already running")
	}
	r.running = true
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})

	slog.Info("Connection reaper starting", "interval", r.config.Interval.String())

	go r.runLoop(ctx, r.done, r.stopped)
	return nil
}

// Stop signals the loop to exit and waits until it has. Safe to call
// multiple times.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if r.running {
		slog.Info("Connection reaper stopping")
		close(r.done)
		r.running = false
	}
	stopped := r.stopped
	r.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
	return nil
}

// RunNow performs one sweep immediately and returns the number removed.
func (r *Reaper) RunNow() int {
	return r.sweep()
}

func (r *Reaper) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.sweep()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			// a Stop followed by a new Start replaces done
			if r.done == done {
				r.running = false
			}
			r.mu.Unlock()
			slog.Info("Connection reaper stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Connection reaper stopped (stop requested)")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() int {
	removed := r.target.Reap()
	if removed > 0 {
		slog.Info("Connection reap completed", "removed", removed, "remaining", r.target.Len())
	} else {
		slog.Debug("Connection reap completed (nothing expired)")
	}
	return removed
}
