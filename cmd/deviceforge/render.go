// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/handlers"
)

// frameSink writes each event as the SSE frame the server would send.
type frameSink struct {
	w io.Writer
}

func newFrameSink(w io.Writer) *frameSink {
	return &frameSink{w: w}
}

func (s *frameSink) Send(ev datatypes.ProgressEvent) error {
	frame, err := handlers.FormatEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.w.Write(frame)
	return err
}

// prettySink renders events as colored terminal lines.
type prettySink struct {
	w       io.Writer
	percent *color.Color
	ok      *color.Color
	fail    *color.Color
	dim     *color.Color
	title   *color.Color
}

func newPrettySink(w io.Writer) *prettySink {
	return &prettySink{
		w:       w,
		percent: color.New(color.FgCyan),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed, color.Bold),
		dim:     color.New(color.FgHiBlack),
		title:   color.New(color.Bold),
	}
}

func (s *prettySink) Send(ev datatypes.ProgressEvent) error {
	var err error
	switch ev.Kind {
	case datatypes.EventStatus:
		_, err = fmt.Fprintf(s.w, "%s %s%s\n", s.percent.Sprintf("[%3d%%]", ev.Percent), ev.Message, s.estimate(ev))
	case datatypes.EventDeviceResult:
		_, err = fmt.Fprintf(s.w, "%s %s %s\n", s.percent.Sprintf("[%3d%%]", ev.Percent), s.ok.Sprint("✓"), ev.Device)
	case datatypes.EventError:
		_, err = fmt.Fprintf(s.w, "%s %s\n", s.fail.Sprint("✗"), ev.Message)
	case datatypes.EventComplete:
		err = s.result(ev.Result)
	case datatypes.EventClose:
		_, err = fmt.Fprintln(s.w, s.dim.Sprint(ev.Message))
	}
	return err
}

func (s *prettySink) estimate(ev datatypes.ProgressEvent) string {
	if ev.EstimateSeconds == nil {
		return ""
	}
	return s.dim.Sprintf(" (~%ds)", *ev.EstimateSeconds)
}

func (s *prettySink) result(result any) error {
	if rec, ok := result.(datatypes.RecommendationResult); ok && rec.Type == datatypes.RecommendationText {
		_, err := fmt.Fprintf(s.w, "%s\n%s\n", s.title.Sprint("Recommendation"), rec.Content)
		return err
	}
	if devices, ok := result.([]datatypes.DeviceConfig); ok {
		if _, err := fmt.Fprintln(s.w, s.title.Sprintf("Generated %d device(s)", len(devices))); err != nil {
			return err
		}
	} else if _, err := fmt.Fprintln(s.w, s.title.Sprint("Result")); err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.w, string(out))
	return err
}
