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
	"errors"
	"fmt"
	"net/http"

	"github.com/AleutianAI/DeviceForge/services/generator/extract"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrDeviceListShape is wrapped in an ExtractionError when the device
	// list is neither an array of objects with "device" nor one such object.
	ErrDeviceListShape = errors.New("device list has an unexpected shape")

	// ErrRunPanicked marks a run that was stopped by a recovered panic.
	ErrRunPanicked = errors.New("generation run panicked")
)

// Stage names a step of a generation run.
type Stage string

const (
	StageDispatch     Stage = "dispatch"
	StageDeviceList   Stage = "device_list"
	StageDeviceDetail Stage = "device_detail"
	StageRecommend    Stage = "recommend"
)

// PipelineError is the terminal failure of a generation run.
//
// # Fields
//
//   - Stage: Step that failed.
//   - Device: Device name, for StageDeviceDetail.
//   - Index: 0-based device index, for StageDeviceDetail.
//   - Err: Underlying cause.
type PipelineError struct {
	Stage  Stage
	Device string
	Index  int
	Err    error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s stage failed for device %q: %v", e.Stage, e.Device, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error { return e.Err }

// publicMessage renders err for an error event. Upstream bodies are
// reduced to a status summary.
func publicMessage(err error) string {
	var pErr *PipelineError
	prefix := "Generation failed"
	if errors.As(err, &pErr) {
		switch pErr.Stage {
		case StageDeviceList:
			prefix = "Device list generation failed"
		case StageDeviceDetail:
			prefix = fmt.Sprintf("Configuration of device %q failed", pErr.Device)
		case StageRecommend:
			prefix = "Recommendation failed"
		}
	}
	return prefix + ": " + causeMessage(err)
}

func causeMessage(err error) string {
	var upErr *llm.UpstreamError
	var extErr *extract.ExtractionError
	switch {
	case errors.Is(err, llm.ErrRateLimitExceeded):
		return "the model service is rate limiting requests, retry later"
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return "the model service is unreachable"
	case errors.As(err, &upErr):
		if text := http.StatusText(upErr.StatusCode); text != "" {
			return fmt.Sprintf("the model service rejected the request (%d %s)", upErr.StatusCode, text)
		}
		return fmt.Sprintf("the model service rejected the request (status %d)", upErr.StatusCode)
	case errors.As(err, &extErr):
		return "the model reply could not be parsed: " + extErr.Error()
	case errors.Is(err, ErrRunPanicked):
		return "internal error"
	default:
		var pErr *PipelineError
		if errors.As(err, &pErr) && pErr.Err != nil {
			return pErr.Err.Error()
		}
		return err.Error()
	}
}
