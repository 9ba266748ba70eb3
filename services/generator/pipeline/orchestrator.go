// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives generation runs: it consumes a connection,
// converses with the model through a conversation.Session, recovers
// structured data from the replies and emits progress events.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/DeviceForge/services/generator/conversation"
	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/extract"
	"github.com/AleutianAI/DeviceForge/services/generator/observability"
	"github.com/AleutianAI/DeviceForge/services/generator/registry"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

var tracer = otel.Tracer("deviceforge.pipeline")

// =============================================================================
// Collaborators
// =============================================================================

// EventSink receives the events of one run in emission order.
//
// # Description
//
// A Send error marks the listener as gone. The run keeps going and drops
// the remaining events, since upstream calls are not cancelled by a
// caller disconnect.
type EventSink interface {
	Send(event datatypes.ProgressEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event datatypes.ProgressEvent) error

// Send implements EventSink.
func (f SinkFunc) Send(event datatypes.ProgressEvent) error { return f(event) }

// ConnectionSource looks up pending connections. Implemented by
// *registry.Registry.
type ConnectionSource interface {
	Consume(id string) (registry.Connection, error)
}

// =============================================================================
// Configuration
// =============================================================================

// StageParams are the sampling settings of one stage.
type StageParams struct {
	Temperature float32 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" validate:"min=0"`
}

func (p StageParams) generation() llm.GenerationParams {
	params := llm.GenerationParams{Temperature: llm.Float32(p.Temperature)}
	if p.MaxTokens > 0 {
		params.MaxTokens = llm.Int(p.MaxTokens)
	}
	return params
}

// Config configures an Orchestrator.
//
// # Fields
//
//   - Progress: Progress spans per stage.
//   - Prompts: Prompt templates; empty entries use the defaults.
//   - DeviceList, DeviceDetail, Recommend: Per-stage sampling settings.
//   - Session: Memory bounds of each run's conversation.
//   - Now: Clock used for durations. Default: time.Now.
type Config struct {
	Progress     ProgressTable
	Prompts      Prompts
	DeviceList   StageParams
	DeviceDetail StageParams
	Recommend    StageParams
	Session      conversation.SessionConfig
	Now          func() time.Time
}

// DefaultConfig returns the production orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Progress:     DefaultProgressTable(),
		Prompts:      DefaultPrompts(),
		DeviceList:   StageParams{Temperature: 0.3, MaxTokens: 1500},
		DeviceDetail: StageParams{Temperature: 0.2, MaxTokens: 3000},
		Recommend:    StageParams{Temperature: 0.7, MaxTokens: 2000},
		Session: conversation.SessionConfig{
			MaxTurns:  conversation.DefaultMaxTurns,
			MaxTokens: conversation.DefaultMaxTokens,
		},
		Now: time.Now,
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// stageRunner executes the stages of one generation kind.
type stageRunner func(ctx context.Context, r *run, payload json.RawMessage) error

// Orchestrator runs generation pipelines.
//
// # Description
//
// Each run gets its own conversation.Session; nothing is shared between
// runs except the ChatClient and the ConnectionSource, both of which are
// safe for concurrent use. Generation kinds are dispatched through a
// table fixed at construction.
//
// # Thread Safety
//
// Safe for concurrent use; every Stream/Run call is independent.
type Orchestrator struct {
	client       llm.ChatClient
	source       ConnectionSource
	config       Config
	prompts      *promptSet
	systemPrompt string
	metrics      *observability.Metrics
	runners      map[datatypes.Kind]stageRunner
}

// New creates an Orchestrator.
//
// # Inputs
//
//   - client: Upstream model client.
//   - source: Connection lookup. May be nil when only Run is used.
//   - cfg: Configuration; see DefaultConfig.
//   - metrics: Optional metrics (nil disables).
//
// # Outputs
//
//   - error: Non-nil if a prompt template or the progress table is invalid.
func New(client llm.ChatClient, source ConnectionSource, cfg Config, metrics *observability.Metrics) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("pipeline: chat client is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.Progress.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	prompts, err := parsePrompts(cfg.Prompts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	systemPrompt, err := render(prompts.system, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	o := &Orchestrator{
		client:       client,
		source:       source,
		config:       cfg,
		prompts:      prompts,
		systemPrompt: strings.TrimSpace(systemPrompt),
		metrics:      metrics,
	}
	o.runners = map[datatypes.Kind]stageRunner{
		datatypes.KindProjectCreation: o.runProjectCreation,
		datatypes.KindAIRecommend:     o.runRecommendation,
	}
	return o, nil
}

// Stream runs the generation stored under connectionID.
//
// # Description
//
// The connection is looked up first; an unknown id returns
// registry.ErrUnknownConnection before any event is emitted. Otherwise
// the run is executed and its events delivered to sink, ending with
// exactly one close event. The connection is not deleted.
//
// # Outputs
//
//   - error: registry.ErrUnknownConnection, or the run's terminal error,
//     which has already been reported to sink as an error event.
func (o *Orchestrator) Stream(ctx context.Context, connectionID string, sink EventSink) error {
	if o.source == nil {
		return fmt.Errorf("%w: %s", registry.ErrUnknownConnection, connectionID)
	}
	conn, err := o.source.Consume(connectionID)
	if err != nil {
		return err
	}
	return o.Run(ctx, conn.ID, conn.Kind, conn.Payload, sink)
}

// Run executes one generation run for an already known request.
//
// # Description
//
// Every failure, including a panic, is converted to a single error event;
// a close event is always the last event.
//
// # Inputs
//
//   - ctx: Bounds the upstream calls. Callers that want the run to outlive
//     the client detach it with context.WithoutCancel.
//   - runID: Identifier used in logs and spans.
//   - kind: Generation kind.
//   - payload: Kind-specific request data.
//   - sink: Event destination.
//
// # Outputs
//
//   - error: The terminal error, or nil when the run completed.
func (o *Orchestrator) Run(ctx context.Context, runID string, kind datatypes.Kind, payload json.RawMessage, sink EventSink) (err error) {
	ctx, span := tracer.Start(ctx, "generator.Run",
		trace.WithAttributes(
			attribute.String("connection.id", runID),
			attribute.String("generation.kind", string(kind)),
		),
	)
	defer span.End()

	r := &run{id: runID, kind: kind, sink: sink, state: stateCreated, stage: StageDispatch}
	start := o.config.Now()
	o.metrics.StreamStarted(string(kind))
	slog.Info("Generation run started", "connection_id", runID, "kind", kind)

	defer func() {
		if rec := recover(); rec != nil {
			err = &PipelineError{Stage: r.stage, Err: fmt.Errorf("%w: %v", ErrRunPanicked, rec)}
			slog.Error("Generation run panicked",
				"connection_id", runID, "panic", rec, "stack", string(debug.Stack()))
		}

		status := observability.StreamStatusSuccess
		closeMessage := "Generation finished"
		if err != nil {
			status = observability.StreamStatusError
			closeMessage = "Generation ended with an error"
			r.transition(stateFailed)
			r.emit(datatypes.ProgressEvent{
				Kind:    datatypes.EventError,
				Message: publicMessage(err),
				Percent: r.progress.current(),
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Generation run failed", "connection_id", runID, "kind", kind, "error", err)
		} else {
			span.SetStatus(codes.Ok, "")
		}

		r.emit(datatypes.ProgressEvent{
			Kind:    datatypes.EventClose,
			Message: closeMessage,
			Percent: r.progress.current(),
		})
		r.transition(stateClosed)

		duration := o.config.Now().Sub(start)
		o.metrics.StreamEnded(string(kind), status, duration.Seconds())
		slog.Info("Generation run closed",
			"connection_id", runID,
			"kind", kind,
			"status", status,
			"duration", duration,
			"events_delivered", r.delivered,
		)
	}()

	runner, ok := o.runners[kind]
	if !ok {
		return &PipelineError{Stage: StageDispatch, Err: fmt.Errorf("%w: %q", datatypes.ErrUnknownKind, kind)}
	}
	r.session = conversation.NewSession(o.client, o.systemPrompt, o.config.Session)

	if err := runner(ctx, r, payload); err != nil {
		return err
	}
	r.transition(stateCompleted)
	return nil
}

// =============================================================================
// project_creation
// =============================================================================

func (o *Orchestrator) runProjectCreation(ctx context.Context, r *run, payload json.RawMessage) error {
	project, err := datatypes.DecodeProjectPayload(payload)
	if err != nil {
		return &PipelineError{Stage: StageDeviceList, Err: err}
	}

	devices, err := o.deviceListStage(ctx, r, project)
	if err != nil {
		return err
	}

	configs, err := o.deviceDetailStage(ctx, r, devices)
	if err != nil {
		return err
	}

	r.status("All device configurations generated", o.config.Progress.Completion, nil, nil, false)
	r.emit(datatypes.ProgressEvent{
		Kind:    datatypes.EventComplete,
		Percent: o.config.Progress.Completion,
		Result:  configs,
	})
	return nil
}

// deviceListStage asks for the device list. Extraction failures are
// reported as an error event and yield zero devices; any other failure
// is returned.
func (o *Orchestrator) deviceListStage(ctx context.Context, r *run, project datatypes.ProjectPayload) ([]string, error) {
	r.stage = StageDeviceList
	ctx, span := tracer.Start(ctx, "generator.DeviceList")
	defer span.End()

	prog := o.config.Progress.DeviceList
	prompt, err := render(o.prompts.deviceList, deviceListData{
		Requirement: flattenProject(project),
		Project:     project,
	})
	if err != nil {
		return nil, stageFailure(span, &PipelineError{Stage: StageDeviceList, Err: err})
	}

	r.transition(stateListRequested)
	r.status("Generating device list", prog.Start, intPtr(prog.End), intPtr(prog.EstimateSeconds), false)

	reply, err := r.session.Send(ctx, prompt, o.config.DeviceList.generation())
	if err != nil {
		return nil, stageFailure(span, &PipelineError{Stage: StageDeviceList, Err: err})
	}
	r.status("Device list generated", prog.End, intPtr(o.config.Progress.DeviceDetail.Start), nil, true)

	devices, err := parseDeviceList(reply)
	if err != nil {
		var extErr *extract.ExtractionError
		if !errors.As(err, &extErr) {
			return nil, stageFailure(span, &PipelineError{Stage: StageDeviceList, Err: err})
		}
		o.metrics.RecordExtractionFailure(string(StageDeviceList))
		span.RecordError(err)
		slog.Warn("Device list could not be parsed, continuing with no devices",
			"connection_id", r.id, "error", err, "reply_bytes", len(reply))
		r.emit(datatypes.ProgressEvent{
			Kind:    datatypes.EventError,
			Message: "Failed to parse the device list: " + extErr.Error(),
			Percent: r.progress.current(),
		})
		devices = nil
	}

	r.transition(stateListParsed, "devices", len(devices))
	span.SetAttributes(attribute.Int("device.count", len(devices)))
	slog.Info("Device list parsed", "connection_id", r.id, "devices", devices)
	return devices, nil
}

// deviceDetailStage generates one configuration per device. The first
// failure ends the run.
func (o *Orchestrator) deviceDetailStage(ctx context.Context, r *run, devices []string) ([]datatypes.DeviceConfig, error) {
	r.stage = StageDeviceDetail
	prog := o.config.Progress.DeviceDetail
	n := len(devices)
	estimate := perDeviceEstimate(n, prog)

	configs := make([]datatypes.DeviceConfig, 0, n)
	for i, device := range devices {
		percent := DevicePercent(i, n, prog)
		next := DevicePercent(i+1, n, prog)

		cfg, err := o.generateDevice(ctx, r, i, n, device, percent, next, estimate)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (o *Orchestrator) generateDevice(ctx context.Context, r *run, i, n int, device string, percent, next, estimate int) (datatypes.DeviceConfig, error) {
	ctx, span := tracer.Start(ctx, "generator.DeviceDetail",
		trace.WithAttributes(
			attribute.String("device.name", device),
			attribute.Int("device.index", i),
		),
	)
	defer span.End()

	fail := func(err error) (datatypes.DeviceConfig, error) {
		return datatypes.DeviceConfig{}, stageFailure(span, &PipelineError{
			Stage:  StageDeviceDetail,
			Device: device,
			Index:  i,
			Err:    err,
		})
	}

	r.transition(stateDetailRequested, "device_index", i, "device", device)
	r.status(fmt.Sprintf("Generating configuration for %s (%d/%d)", device, i+1, n),
		percent, intPtr(next), intPtr(estimate), false)

	prompt, err := render(o.prompts.deviceDetail, deviceDetailData{Device: device, Index: i + 1, Total: n})
	if err != nil {
		return fail(err)
	}

	reply, err := r.session.Send(ctx, prompt, o.config.DeviceDetail.generation())
	if err != nil {
		return fail(err)
	}

	var cfg datatypes.DeviceConfig
	if err := extract.Into(reply, &cfg); err != nil {
		o.metrics.RecordExtractionFailure(string(StageDeviceDetail))
		return fail(err)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = device
	}
	cfg.ID = i

	result := cfg
	r.emit(datatypes.ProgressEvent{
		Kind:    datatypes.EventDeviceResult,
		Message: fmt.Sprintf("Configuration for %s generated", device),
		Percent: next,
		Device:  device,
		Config:  &result,
	})
	r.status(fmt.Sprintf("Configuration for %s generated (%d/%d)", device, i+1, n), next, nil, nil, true)

	slog.Info("Device configuration generated",
		"connection_id", r.id, "device", device, "index", i,
		"states", len(cfg.ECC.States), "algorithms", len(cfg.Algorithms))
	return cfg, nil
}

// parseDeviceList recovers the device names from the stage-1 reply.
// Every failure is an *extract.ExtractionError.
func parseDeviceList(reply string) ([]string, error) {
	v, err := extract.JSON(reply)
	if err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case []any:
		names := make([]string, 0, len(t))
		for i, item := range t {
			name, ok := deviceName(item)
			if !ok {
				return nil, &extract.ExtractionError{
					Reason: extract.ReasonShape,
					Err:    fmt.Errorf("%w: item %d has no device name", ErrDeviceListShape, i),
				}
			}
			names = append(names, name)
		}
		return names, nil
	case map[string]any:
		if name, ok := deviceName(t); ok {
			return []string{name}, nil
		}
	}
	return nil, &extract.ExtractionError{Reason: extract.ReasonShape, Err: ErrDeviceListShape}
}

func deviceName(item any) (string, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := obj["device"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", false
	}
	return strings.TrimSpace(name), true
}

// =============================================================================
// ai_recommend
// =============================================================================

func (o *Orchestrator) runRecommendation(ctx context.Context, r *run, payload json.RawMessage) error {
	r.stage = StageRecommend
	ctx, span := tracer.Start(ctx, "generator.Recommend")
	defer span.End()

	req, err := datatypes.DecodeRecommendPayload(payload)
	if err != nil {
		return stageFailure(span, &PipelineError{Stage: StageRecommend, Err: err})
	}
	prompt, err := render(o.prompts.recommend, recommendData{Prompt: req.Prompt})
	if err != nil {
		return stageFailure(span, &PipelineError{Stage: StageRecommend, Err: err})
	}

	prog := o.config.Progress.Recommend
	r.transition(stateRecommendRequested)
	r.status("Generating system recommendation", prog.Start, intPtr(prog.End), intPtr(prog.EstimateSeconds), false)

	reply, err := r.session.Send(ctx, prompt, o.config.Recommend.generation())
	if err != nil {
		return stageFailure(span, &PipelineError{Stage: StageRecommend, Err: err})
	}
	r.status("Recommendation generated", prog.End, nil, nil, true)

	result := datatypes.RecommendationResult{Type: datatypes.RecommendationText, Content: reply}
	if v, err := extract.JSON(reply); err == nil {
		result = datatypes.RecommendationResult{Type: datatypes.RecommendationStructured, Recommendations: v}
	} else {
		o.metrics.RecordExtractionFailure(string(StageRecommend))
		slog.Info("Recommendation is not structured, returning text", "connection_id", r.id, "error", err)
	}

	r.status("Recommendation ready", o.config.Progress.Completion, nil, nil, false)
	r.emit(datatypes.ProgressEvent{
		Kind:    datatypes.EventComplete,
		Percent: o.config.Progress.Completion,
		Result:  result,
	})
	return nil
}

// =============================================================================
// Run state
// =============================================================================

type runState string

const (
	stateCreated            runState = "created"
	stateListRequested      runState = "list_requested"
	stateListParsed         runState = "list_parsed"
	stateDetailRequested    runState = "detail_requested"
	stateRecommendRequested runState = "recommend_requested"
	stateCompleted          runState = "completed"
	stateFailed             runState = "failed"
	stateClosed             runState = "closed"
)

// run is the state of one generation run. Owned by a single goroutine.
type run struct {
	id         string
	kind       datatypes.Kind
	sink       EventSink
	session    *conversation.Session
	progress   progressTracker
	state      runState
	stage      Stage
	sinkFailed bool
	delivered  int
}

func (r *run) transition(to runState, attrs ...any) {
	args := append([]any{"connection_id", r.id, "from", r.state, "to", to}, attrs...)
	slog.Debug("Generation run state changed", args...)
	r.state = to
}

// emit clamps the progress of ev and hands it to the sink. After the
// first sink failure events are dropped.
func (r *run) emit(ev datatypes.ProgressEvent) {
	ev.Percent = r.progress.clamp(ev.Percent)
	if ev.NextPercent != nil {
		next := bound(*ev.NextPercent)
		if next < ev.Percent {
			next = ev.Percent
		}
		ev.NextPercent = &next
	}

	if r.sinkFailed || r.sink == nil {
		return
	}
	if err := r.sink.Send(ev); err != nil {
		r.sinkFailed = true
		slog.Warn("Event delivery failed, continuing without a listener",
			"connection_id", r.id, "event", ev.Kind, "error", err)
		return
	}
	r.delivered++
}

func (r *run) status(message string, percent int, next, estimate *int, replace bool) {
	r.emit(datatypes.ProgressEvent{
		Kind:            datatypes.EventStatus,
		Message:         message,
		Percent:         percent,
		NextPercent:     next,
		EstimateSeconds: estimate,
		Replace:         replace,
	})
}

func stageFailure(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func intPtr(v int) *int { return &v }
