// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the generator.
//
// # Description
//
// Metrics cover the connection lifecycle, generation streams, upstream
// model calls and extraction failures. They are exposed on /metrics.
//
// Every Record/Observe method is safe on a nil *Metrics, so components
// can be built without metrics in tests and in the CLI.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/DeviceForge/services/llm"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "deviceforge"

const (
	connectionsSubsystem = "connections"
	streamsSubsystem     = "streams"
	upstreamSubsystem    = "upstream"
	extractionSubsystem  = "extraction"
)

// Metrics holds all Prometheus metrics of the generator service.
//
// # Fields
//
//   - ConnectionsCreated: Counter by kind.
//   - ConnectionsReaped: Counter of connections removed by the reaper.
//   - StreamsTotal: Counter of finished streams by kind and status.
//   - ActiveStreams: Gauge of running streams by kind.
//   - StreamDurationSeconds: Histogram by kind and status.
//   - UpstreamCalls: Counter by outcome.
//   - UpstreamRetries: Counter by reason.
//   - TokensTotal: Counter by direction and model.
//   - ExtractionFailures: Counter by stage.
type Metrics struct {
	ConnectionsCreated    *prometheus.CounterVec
	ConnectionsReaped     prometheus.Counter
	StreamsTotal          *prometheus.CounterVec
	ActiveStreams         *prometheus.GaugeVec
	StreamDurationSeconds *prometheus.HistogramVec
	UpstreamCalls         *prometheus.CounterVec
	UpstreamRetries       *prometheus.CounterVec
	TokensTotal           *prometheus.CounterVec
	ExtractionFailures    *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Target registerer. Tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics on duplicate registration, like promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectionsSubsystem,
				Name:      "created_total",
				Help:      "Total connections created by generation kind",
			},
			[]string{"kind"},
		),

		ConnectionsReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectionsSubsystem,
				Name:      "reaped_total",
				Help:      "Total expired connections removed by the reaper",
			},
		),

		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamsSubsystem,
				Name:      "total",
				Help:      "Total generation streams by kind and final status",
			},
			[]string{"kind", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamsSubsystem,
				Name:      "active",
				Help:      "Number of currently running generation streams",
			},
			[]string{"kind"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamsSubsystem,
				Name:      "duration_seconds",
				Help:      "Total generation stream duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "status"},
		),

		UpstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "calls_total",
				Help:      "Total upstream model calls by final outcome",
			},
			[]string{"outcome"},
		),

		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "retries_total",
				Help:      "Total upstream retries by reason",
			},
			[]string{"reason"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens reported by the upstream by direction and model",
			},
			[]string{"direction", "model"},
		),

		ExtractionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: extractionSubsystem,
				Name:      "failures_total",
				Help:      "Total structured-data extraction failures by pipeline stage",
			},
			[]string{"stage"},
		),

		registerer: reg,
	}
}

// RegisterLiveConnections exposes fn as the live connection gauge.
func (m *Metrics) RegisterLiveConnections(fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registerer).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: connectionsSubsystem,
			Name:      "live",
			Help:      "Number of connections currently held by the registry",
		},
		func() float64 { return float64(fn()) },
	)
}

// =============================================================================
// Stream Status
// =============================================================================

// StreamStatus is the final status label of a generation stream.
type StreamStatus string

const (
	StreamStatusSuccess StreamStatus = "success"
	StreamStatusError   StreamStatus = "error"
)

// =============================================================================
// Registry observer
// =============================================================================

// ObserveConnectionCreated implements registry.Observer.
func (m *Metrics) ObserveConnectionCreated(kind string) {
	if m == nil {
		return
	}
	m.ConnectionsCreated.WithLabelValues(kind).Inc()
}

// ObserveConnectionsReaped implements registry.Observer.
func (m *Metrics) ObserveConnectionsReaped(n int) {
	if m == nil {
		return
	}
	m.ConnectionsReaped.Add(float64(n))
}

// =============================================================================
// Upstream observer
// =============================================================================

// ObserveUpstreamCall implements llm.CallObserver.
func (m *Metrics) ObserveUpstreamCall(outcome string) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(outcome).Inc()
}

// ObserveUpstreamRetry implements llm.CallObserver.
func (m *Metrics) ObserveUpstreamRetry(reason string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(reason).Inc()
}

// ObserveTokens implements llm.CallObserver.
func (m *Metrics) ObserveTokens(usage llm.Usage, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(usage.PromptTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(usage.CompletionTokens))
}

// =============================================================================
// Stream helpers
// =============================================================================

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(kind string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(kind).Inc()
}

// StreamEnded decrements the active gauge and records the outcome.
//
// # Inputs
//
//   - kind: Generation kind.
//   - status: Final status.
//   - seconds: Total stream duration.
func (m *Metrics) StreamEnded(kind string, status StreamStatus, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(kind).Dec()
	m.StreamsTotal.WithLabelValues(kind, string(status)).Inc()
	m.StreamDurationSeconds.WithLabelValues(kind, string(status)).Observe(seconds)
}

// RecordExtractionFailure counts a failed extraction in stage.
func (m *Metrics) RecordExtractionFailure(stage string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(stage).Inc()
}

var _ llm.CallObserver = (*Metrics)(nil)
