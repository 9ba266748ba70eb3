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

import "fmt"

// Range is the progress span of one stage.
type Range struct {
	Start           int `yaml:"start" json:"start" validate:"min=0,max=100"`
	End             int `yaml:"end" json:"end" validate:"min=0,max=100,gtefield=Start"`
	EstimateSeconds int `yaml:"estimate_seconds" json:"estimate_seconds" validate:"min=0"`
}

// ProgressTable holds the progress spans of every stage.
type ProgressTable struct {
	DeviceList   Range `yaml:"device_list" json:"device_list"`
	DeviceDetail Range `yaml:"device_detail" json:"device_detail"`
	Completion   int   `yaml:"completion" json:"completion" validate:"min=0,max=100"`
	Recommend    Range `yaml:"recommend" json:"recommend"`
}

// DefaultProgressTable returns the production progress spans.
func DefaultProgressTable() ProgressTable {
	return ProgressTable{
		DeviceList:   Range{Start: 5, End: 39, EstimateSeconds: 15},
		DeviceDetail: Range{Start: 40, End: 99, EstimateSeconds: 60},
		Completion:   100,
		Recommend:    Range{Start: 0, End: 100, EstimateSeconds: 20},
	}
}

// Validate checks that every span lies in [0,100] and is not reversed.
func (p ProgressTable) Validate() error {
	for name, r := range map[string]Range{
		"device_list":   p.DeviceList,
		"device_detail": p.DeviceDetail,
		"recommend":     p.Recommend,
	} {
		if r.Start < 0 || r.End > 100 || r.Start > r.End {
			return fmt.Errorf("progress range %s [%d,%d] is invalid", name, r.Start, r.End)
		}
	}
	if p.Completion < 0 || p.Completion > 100 {
		return fmt.Errorf("completion progress %d is outside [0,100]", p.Completion)
	}
	return nil
}

// DevicePercent returns the progress at which device i of n starts.
//
// # Description
//
// percent = start + floor(i/n * (end-start)), computed in integers so
// the floor is exact. i == n yields end. For n <= 0 the result is start.
func DevicePercent(i, n int, r Range) int {
	if n <= 0 {
		return r.Start
	}
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	return r.Start + i*(r.End-r.Start)/n
}

// perDeviceEstimate splits the stage estimate evenly, at least one second.
func perDeviceEstimate(n int, r Range) int {
	if n <= 0 || r.EstimateSeconds <= 0 {
		return r.EstimateSeconds
	}
	if est := r.EstimateSeconds / n; est > 0 {
		return est
	}
	return 1
}

// progressTracker clamps the percent of every emitted event so the
// sequence seen by one connection never decreases and stays in [0,100].
type progressTracker struct {
	last int
}

func (t *progressTracker) clamp(percent int) int {
	percent = bound(percent)
	if percent < t.last {
		percent = t.last
	}
	t.last = percent
	return percent
}

func (t *progressTracker) current() int { return t.last }

func bound(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
