// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// EventKind is the domain kind of a ProgressEvent.
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventDeviceResult EventKind = "device_result"
	EventError        EventKind = "error"
	EventComplete     EventKind = "complete"
	EventClose        EventKind = "close"
)

// WireName returns the SSE event name for the kind.
func (k EventKind) WireName() string {
	if k == EventDeviceResult {
		return "device_config"
	}
	return string(k)
}

// ProgressEvent is one domain event emitted by a generation run.
//
// # Fields
//
//   - Kind: Event kind.
//   - Message: Human readable text (status, error, close).
//   - Percent: Progress in [0,100]; non-decreasing across one run.
//   - NextPercent: Optional percent the client may animate towards.
//   - EstimateSeconds: Optional time estimate for the step just started.
//   - Replace: The event supersedes the previous status line.
//   - Device: Device name (device_result only).
//   - Config: Generated configuration (device_result only).
//   - Result: Final payload (complete only).
type ProgressEvent struct {
	Kind            EventKind
	Message         string
	Percent         int
	NextPercent     *int
	EstimateSeconds *int
	Replace         bool
	Device          string
	Config          *DeviceConfig
	Result          any
}

// Recommendation result discriminators.
const (
	RecommendationStructured = "structured"
	RecommendationText       = "text"
)

// RecommendationResult is the complete payload of an ai_recommend run.
type RecommendationResult struct {
	Type            string `json:"type"`
	Recommendations any    `json:"recommendations,omitempty"`
	Content         string `json:"content,omitempty"`
}
