// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/observability"
	"github.com/AleutianAI/DeviceForge/services/generator/registry"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

// =============================================================================
// Test Helpers
// =============================================================================

type scriptedReply struct {
	text  string
	err   error
	panic bool
}

// scriptedClient answers calls from a fixed queue and records every
// request it receives.
type scriptedClient struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   [][]llm.Message
	params  []llm.GenerationParams
}

func newScriptedClient(replies ...scriptedReply) *scriptedClient {
	return &scriptedClient{replies: replies}
}

func (c *scriptedClient) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	c.params = append(c.params, params)
	if len(c.replies) == 0 {
		return "", errors.New("unexpected call")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	if r.panic {
		panic("scripted panic")
	}
	return r.text, r.err
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func reply(text string) scriptedReply { return scriptedReply{text: text} }

// recordingSink collects events; it fails every Send after failAfter
// successful ones when failAfter > 0.
type recordingSink struct {
	events    []datatypes.ProgressEvent
	failAfter int
}

func (s *recordingSink) Send(ev datatypes.ProgressEvent) error {
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errors.New("listener gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []datatypes.EventKind {
	out := make([]datatypes.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *recordingSink) percents() []int {
	out := make([]int, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Percent
	}
	return out
}

func (s *recordingSink) last() datatypes.ProgressEvent {
	return s.events[len(s.events)-1]
}

// assertProgressWellFormed checks the ordering guarantees every run makes.
func assertProgressWellFormed(t *testing.T, events []datatypes.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	prev := 0
	closes := 0
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, 0, "event %d", i)
		assert.LessOrEqual(t, ev.Percent, 100, "event %d", i)
		assert.GreaterOrEqual(t, ev.Percent, prev, "progress decreased at event %d", i)
		if ev.NextPercent != nil {
			assert.GreaterOrEqual(t, *ev.NextPercent, ev.Percent, "event %d", i)
		}
		prev = ev.Percent
		if ev.Kind == datatypes.EventClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.Equal(t, datatypes.EventClose, events[len(events)-1].Kind)
}

func newTestOrchestrator(t *testing.T, client llm.ChatClient, source ConnectionSource, metrics *observability.Metrics) *Orchestrator {
	t.Helper()
	o, err := New(client, source, DefaultConfig(), metrics)
	require.NoError(t, err)
	return o
}

func projectPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(datatypes.ProjectPayload{
		Name:        "Transfer line",
		Description: "Moves trays between stations",
		Blocks: []datatypes.BlockSpec{
			{Name: "Conveyor", Description: "moves trays"},
			{Name: "Lift"},
		},
	})
	require.NoError(t, err)
	return raw
}

func deviceReply(name string) string {
	return fmt.Sprintf(`Here is the configuration:
{"name": %q, "var_input": [{"name": "start", "type": "bool", "description": "start"}],
 "ECC": {"ECStates": [{"name": "Idle", "comment": "initial", "x": 50, "y": 50}], "ECTransitions": []},
 "Algorithms": [{"Name": "Run", "Comment": "", "Input": "start", "Output": "done", "Code": "x := 1;"}]}`, name)
}

const threeDeviceList = "```json\n" +
	`[{"device": "ConveyorBelt", "input_signal": "MaterialDetected", "output_signal": "MoveMaterial", "description": "moves"},
  {"device": "Transplanter"},
  {"device": "Elevator"}]` +
	"\n```"

// =============================================================================
// project_creation
// =============================================================================

func TestRun_ProjectCreation_ThreeDevices(t *testing.T) {
	client := newScriptedClient(
		reply(threeDeviceList),
		reply(deviceReply("ConveyorBelt")),
		reply(deviceReply("")),
		reply(deviceReply("Elevator")),
	)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	o := newTestOrchestrator(t, client, nil, metrics)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-1", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.NoError(t, err)

	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventStatus, datatypes.EventStatus,
		datatypes.EventStatus, datatypes.EventDeviceResult, datatypes.EventStatus,
		datatypes.EventStatus, datatypes.EventDeviceResult, datatypes.EventStatus,
		datatypes.EventStatus, datatypes.EventDeviceResult, datatypes.EventStatus,
		datatypes.EventStatus, datatypes.EventComplete, datatypes.EventClose,
	}, sink.kinds())
	assert.Equal(t, []int{5, 39, 40, 59, 59, 59, 79, 79, 79, 99, 99, 100, 100, 100}, sink.percents())
	assertProgressWellFormed(t, sink.events)

	first := sink.events[0]
	require.NotNil(t, first.NextPercent)
	require.NotNil(t, first.EstimateSeconds)
	assert.Equal(t, 39, *first.NextPercent)
	assert.Equal(t, 15, *first.EstimateSeconds)
	assert.True(t, sink.events[1].Replace)

	perDevice := sink.events[2]
	require.NotNil(t, perDevice.EstimateSeconds)
	assert.Equal(t, 20, *perDevice.EstimateSeconds)
	assert.Contains(t, perDevice.Message, "ConveyorBelt (1/3)")

	second := sink.events[6]
	assert.Equal(t, "Transplanter", second.Device)
	require.NotNil(t, second.Config)
	assert.Equal(t, "Transplanter", second.Config.Name, "empty name falls back to the device name")
	assert.Equal(t, 1, second.Config.ID)

	configs, ok := sink.events[12].Result.([]datatypes.DeviceConfig)
	require.True(t, ok)
	require.Len(t, configs, 3)
	for i, name := range []string{"ConveyorBelt", "Transplanter", "Elevator"} {
		assert.Equal(t, name, configs[i].Name)
		assert.Equal(t, i, configs[i].ID)
	}
	assert.Equal(t, "Generation finished", sink.last().Message)

	require.Equal(t, 4, client.callCount())
	lastCall := client.calls[3]
	assert.Equal(t, llm.RoleSystem, lastCall[0].Role)
	assert.Equal(t, llm.RoleUser, lastCall[len(lastCall)-1].Role)
	assert.Contains(t, lastCall[len(lastCall)-1].Content, `"Elevator"`)

	require.NotNil(t, client.params[0].Temperature)
	assert.InDelta(t, 0.3, *client.params[0].Temperature, 1e-6)
	require.NotNil(t, client.params[1].MaxTokens)
	assert.Equal(t, 3000, *client.params[1].MaxTokens)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamsTotal.WithLabelValues("project_creation", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveStreams.WithLabelValues("project_creation")))
}

func TestRun_ProjectCreation_UnparseableListCompletesEmpty(t *testing.T) {
	client := newScriptedClient(reply("I am sorry, I cannot list devices for that."))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	o := newTestOrchestrator(t, client, nil, metrics)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-2", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.NoError(t, err)

	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventStatus, datatypes.EventStatus,
		datatypes.EventError,
		datatypes.EventStatus, datatypes.EventComplete, datatypes.EventClose,
	}, sink.kinds())
	assertProgressWellFormed(t, sink.events)
	assert.Contains(t, sink.events[2].Message, "Failed to parse the device list")

	configs, ok := sink.events[4].Result.([]datatypes.DeviceConfig)
	require.True(t, ok)
	assert.NotNil(t, configs)
	assert.Empty(t, configs)

	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExtractionFailures.WithLabelValues("device_list")))
}

func TestRun_ProjectCreation_DeviceFailureEndsRun(t *testing.T) {
	client := newScriptedClient(
		reply(threeDeviceList),
		reply(deviceReply("ConveyorBelt")),
		scriptedReply{err: &llm.UpstreamError{StatusCode: 500, Detail: "secret upstream body"}},
	)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	o := newTestOrchestrator(t, client, nil, metrics)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-3", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.Error(t, err)

	var pErr *PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StageDeviceDetail, pErr.Stage)
	assert.Equal(t, "Transplanter", pErr.Device)
	assert.Equal(t, 1, pErr.Index)

	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventStatus, datatypes.EventStatus,
		datatypes.EventStatus, datatypes.EventDeviceResult, datatypes.EventStatus,
		datatypes.EventStatus,
		datatypes.EventError, datatypes.EventClose,
	}, sink.kinds())
	assertProgressWellFormed(t, sink.events)

	errEvent := sink.events[6]
	assert.Contains(t, errEvent.Message, "Transplanter")
	assert.Contains(t, errEvent.Message, "500")
	assert.NotContains(t, errEvent.Message, "secret upstream body")
	assert.Equal(t, "Generation ended with an error", sink.last().Message)

	assert.Equal(t, 3, client.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamsTotal.WithLabelValues("project_creation", "error")))
}

func TestRun_ProjectCreation_MalformedDeviceConfigIsFatal(t *testing.T) {
	client := newScriptedClient(
		reply(`[{"device": "Press"}]`),
		reply("no configuration here"),
	)
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-4", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.Error(t, err)
	assert.NotContains(t, sink.kinds(), datatypes.EventComplete)
	assert.Contains(t, sink.events[len(sink.events)-2].Message, "could not be parsed")
	assertProgressWellFormed(t, sink.events)
}

func TestRun_ProjectCreation_MiddleDeviceProseEndsRun(t *testing.T) {
	client := newScriptedClient(
		reply(threeDeviceList),
		reply(deviceReply("ConveyorBelt")),
		reply("The Transplanter picks trays up and sets them down elsewhere."),
	)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	o := newTestOrchestrator(t, client, nil, metrics)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-4b", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.Error(t, err)

	var pErr *PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "Transplanter", pErr.Device)
	assert.Equal(t, 1, pErr.Index)

	var errorEvents int
	for _, ev := range sink.events {
		if ev.Kind == datatypes.EventError {
			errorEvents++
			assert.Contains(t, ev.Message, "Transplanter")
			assert.Contains(t, ev.Message, "could not be parsed")
		}
	}
	assert.Equal(t, 1, errorEvents)
	assert.NotContains(t, sink.kinds(), datatypes.EventComplete)
	assertProgressWellFormed(t, sink.events)
	assert.Equal(t, datatypes.EventError, sink.events[len(sink.events)-2].Kind)

	// the third device is never requested
	assert.Equal(t, 3, client.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamsTotal.WithLabelValues("project_creation", "error")))
}

func TestRun_ProjectCreation_LooseValueTypesComplete(t *testing.T) {
	client := newScriptedClient(
		reply(`[{"device": "Press"}]`),
		reply(`{"name": "Press",
 "InternalVars": [{"name": "Busy", "type": "bool", "InitalVaule": false, "description": "busy"}],
 "ECC": {"ECStates": [{"name": "Idle", "comment": "", "x": "50", "y": 50}],
         "ECTransitions": [{"source": "Idle", "destination": "Idle", "condition": "Go", "comment": "", "x": "75", "y": "20"}]},
 "Algorithms": []}`),
	)
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	require.NoError(t, o.Run(context.Background(), "conn-4c", datatypes.KindProjectCreation, projectPayload(t), sink))

	assert.NotContains(t, sink.kinds(), datatypes.EventError)
	assert.Contains(t, sink.kinds(), datatypes.EventDeviceResult)
	assertProgressWellFormed(t, sink.events)

	complete := sink.events[len(sink.events)-2]
	require.Equal(t, datatypes.EventComplete, complete.Kind)
	configs, ok := complete.Result.([]datatypes.DeviceConfig)
	require.True(t, ok)
	require.Len(t, configs, 1)
	assert.Equal(t, datatypes.Scalar("FALSE"), configs[0].InternalVars[0].InitialValue)
	assert.Equal(t, datatypes.Coordinate(50), configs[0].ECC.States[0].X)
	assert.Equal(t, datatypes.Coordinate(20), configs[0].ECC.Transitions[0].Y)
}

func TestRun_ProjectCreation_ListUpstreamFailureIsFatal(t *testing.T) {
	client := newScriptedClient(scriptedReply{err: fmt.Errorf("%w after 3 attempts: boom", llm.ErrRateLimitExceeded)})
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "conn-5", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.ErrorIs(t, err, llm.ErrRateLimitExceeded)

	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventStatus, datatypes.EventError, datatypes.EventClose,
	}, sink.kinds())
	assert.Contains(t, sink.events[1].Message, "rate limiting")
}

func TestRun_ProjectCreation_SingleObjectList(t *testing.T) {
	client := newScriptedClient(
		reply(`{"device": "Press", "input_signal": "Go"}`),
		reply(deviceReply("Press")),
	)
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	require.NoError(t, o.Run(context.Background(), "conn-6", datatypes.KindProjectCreation, projectPayload(t), sink))

	// a single device spans the whole detail range
	assert.Equal(t, []int{5, 39, 40, 99, 99, 100, 100, 100}, sink.percents())
	configs := sink.events[6].Result.([]datatypes.DeviceConfig)
	require.Len(t, configs, 1)
	assert.Equal(t, "Press", configs[0].Name)
}

// =============================================================================
// ai_recommend
// =============================================================================

func TestRun_Recommend(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantType string
		check    func(t *testing.T, r datatypes.RecommendationResult)
	}{
		{
			name:     "structured",
			reply:    "```json\n{\"name\": \"Line\", \"blocks\": [{\"name\": \"Belt\"}]}\n```",
			wantType: datatypes.RecommendationStructured,
			check: func(t *testing.T, r datatypes.RecommendationResult) {
				obj, ok := r.Recommendations.(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "Line", obj["name"])
				assert.Empty(t, r.Content)
			},
		},
		{
			name:     "plain text",
			reply:    "Use two conveyors and a lift.",
			wantType: datatypes.RecommendationText,
			check: func(t *testing.T, r datatypes.RecommendationResult) {
				assert.Equal(t, "Use two conveyors and a lift.", r.Content)
				assert.Nil(t, r.Recommendations)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient(reply(tt.reply))
			o := newTestOrchestrator(t, client, nil, nil)
			sink := &recordingSink{}

			err := o.Run(context.Background(), "rec", datatypes.KindAIRecommend, json.RawMessage(`{"prompt": "sort parcels"}`), sink)
			require.NoError(t, err)

			assert.Equal(t, []datatypes.EventKind{
				datatypes.EventStatus, datatypes.EventStatus, datatypes.EventStatus,
				datatypes.EventComplete, datatypes.EventClose,
			}, sink.kinds())
			assert.Equal(t, []int{0, 100, 100, 100, 100}, sink.percents())
			assertProgressWellFormed(t, sink.events)

			result, ok := sink.events[3].Result.(datatypes.RecommendationResult)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, result.Type)
			tt.check(t, result)

			require.Equal(t, 1, client.callCount())
			assert.Contains(t, client.calls[0][len(client.calls[0])-1].Content, "sort parcels")
			require.NotNil(t, client.params[0].MaxTokens)
			assert.Equal(t, 2000, *client.params[0].MaxTokens)
		})
	}
}

// =============================================================================
// Failure handling
// =============================================================================

func TestRun_PanicBecomesErrorEvent(t *testing.T) {
	client := newScriptedClient(scriptedReply{panic: true})
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "boom", datatypes.KindAIRecommend, json.RawMessage(`{"prompt": "x"}`), sink)
	require.ErrorIs(t, err, ErrRunPanicked)

	kinds := sink.kinds()
	require.GreaterOrEqual(t, len(kinds), 2)
	assert.Equal(t, datatypes.EventError, kinds[len(kinds)-2])
	assert.Contains(t, sink.events[len(kinds)-2].Message, "internal error")
	assertProgressWellFormed(t, sink.events)
}

func TestRun_SinkFailureDoesNotStopRun(t *testing.T) {
	client := newScriptedClient(
		reply(threeDeviceList),
		reply(deviceReply("ConveyorBelt")),
		reply(deviceReply("Transplanter")),
		reply(deviceReply("Elevator")),
	)
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{failAfter: 1}

	err := o.Run(context.Background(), "gone", datatypes.KindProjectCreation, projectPayload(t), sink)
	require.NoError(t, err)

	assert.Len(t, sink.events, 1)
	assert.Equal(t, 4, client.callCount())
}

func TestRun_UnknownKind(t *testing.T) {
	client := newScriptedClient()
	o := newTestOrchestrator(t, client, nil, nil)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "x", datatypes.Kind("mystery"), nil, sink)
	require.ErrorIs(t, err, datatypes.ErrUnknownKind)
	assert.Equal(t, []datatypes.EventKind{datatypes.EventError, datatypes.EventClose}, sink.kinds())
	assert.Equal(t, 0, client.callCount())
}

func TestRun_InvalidPayload(t *testing.T) {
	o := newTestOrchestrator(t, newScriptedClient(), nil, nil)
	sink := &recordingSink{}

	err := o.Run(context.Background(), "x", datatypes.KindAIRecommend, json.RawMessage(`{"prompt": ""}`), sink)
	require.Error(t, err)
	assert.Equal(t, []datatypes.EventKind{datatypes.EventError, datatypes.EventClose}, sink.kinds())
}

// =============================================================================
// Stream
// =============================================================================

func TestStream_UnknownConnection(t *testing.T) {
	reg := registry.New(registry.Config{})
	client := newScriptedClient()
	o := newTestOrchestrator(t, client, reg, nil)
	sink := &recordingSink{}

	err := o.Stream(context.Background(), "does-not-exist", sink)
	require.ErrorIs(t, err, registry.ErrUnknownConnection)
	assert.Empty(t, sink.events)
	assert.Equal(t, 0, client.callCount())
}

func TestStream_RegisteredConnection(t *testing.T) {
	reg := registry.New(registry.Config{})
	id, err := reg.Create(datatypes.KindAIRecommend, json.RawMessage(`{"prompt": "pack boxes"}`))
	require.NoError(t, err)

	client := newScriptedClient(reply("Use a palletizer."))
	o := newTestOrchestrator(t, client, reg, nil)
	sink := &recordingSink{}

	require.NoError(t, o.Stream(context.Background(), id, sink))
	assert.Equal(t, datatypes.EventComplete, sink.events[len(sink.events)-2].Kind)
	assert.Equal(t, 1, reg.Len(), "streaming does not delete the connection")
}

// =============================================================================
// Construction and helpers
// =============================================================================

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Prompts.DeviceDetail = "{{.Device"
	_, err = New(newScriptedClient(), nil, cfg, nil)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Progress.DeviceList = Range{Start: 50, End: 10}
	_, err = New(newScriptedClient(), nil, cfg, nil)
	require.Error(t, err)
}

func TestDevicePercent(t *testing.T) {
	r := Range{Start: 40, End: 99}
	assert.Equal(t, 40, DevicePercent(0, 3, r))
	assert.Equal(t, 59, DevicePercent(1, 3, r))
	assert.Equal(t, 79, DevicePercent(2, 3, r))
	assert.Equal(t, 99, DevicePercent(3, 3, r))
	assert.Equal(t, 40, DevicePercent(0, 0, r))
	assert.Equal(t, 99, DevicePercent(7, 3, r))
}

func TestProgressTracker_Clamps(t *testing.T) {
	var p progressTracker
	assert.Equal(t, 10, p.clamp(10))
	assert.Equal(t, 10, p.clamp(3))
	assert.Equal(t, 100, p.clamp(250))
	assert.Equal(t, 100, p.clamp(-5))
	assert.Equal(t, 100, p.current())
}

func TestParseDeviceList(t *testing.T) {
	names, err := parseDeviceList(`[{"device": " A "}, {"device": "B"}]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)

	names, err = parseDeviceList(`[]`)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = parseDeviceList(`[{"device": "A"}, {"name": "B"}]`)
	require.ErrorIs(t, err, ErrDeviceListShape)

	_, err = parseDeviceList(`{"devices": ["A"]}`)
	require.ErrorIs(t, err, ErrDeviceListShape)
}

func TestFlattenProject(t *testing.T) {
	got := flattenProject(datatypes.ProjectPayload{
		Name:        "Line",
		Description: "Moves trays",
		Blocks:      []datatypes.BlockSpec{{Name: "Belt", Description: "moves"}, {}},
	})
	assert.Equal(t, "System name: Line\nSystem description: Moves trays\n"+
		"Block: Belt, function: moves\nBlock: Unnamed block, function: No description", got)
}
