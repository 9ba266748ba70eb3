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

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// =============================================================================
// Stage 1: device list
// =============================================================================

// DeviceDescriptor is one entry of the device list produced by stage 1.
type DeviceDescriptor struct {
	Device       string `json:"device"`
	InputSignal  string `json:"input_signal"`
	OutputSignal string `json:"output_signal"`
	Description  string `json:"description"`
}

// =============================================================================
// Stage 2: device detail
// =============================================================================

// DeviceConfig is the function-block configuration generated for one device.
//
// # Description
//
// The JSON field names follow the format the model is prompted with and
// the format the downstream XML emitter consumes, which is why the casing
// is mixed. ID is the 0-based position of the device in stage 2.
type DeviceConfig struct {
	Name         string        `json:"name"`
	VarInput     []Variable    `json:"var_input"`
	VarOutput    []Variable    `json:"var_output"`
	SignalInput  []Signal      `json:"signal_input"`
	SignalOutput []Signal      `json:"signal_output"`
	InternalVars []InternalVar `json:"InternalVars"`
	ECC          ECC           `json:"ECC"`
	Algorithms   []Algorithm   `json:"Algorithms"`
	ID           int           `json:"id"`
}

// Variable is a typed data input or output of a function block.
type Variable struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Signal is an event input or output of a function block.
type Signal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// InternalVar is a function-block internal variable.
type InternalVar struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// InitialValue keeps the misspelled key the emitter reads.
	InitialValue Scalar `json:"InitalVaule"`
	Description  string `json:"description"`
}

// ECC is the execution-control chart of a function block.
type ECC struct {
	States      []ECState      `json:"ECStates"`
	Transitions []ECTransition `json:"ECTransitions"`
}

// ECState is one state of the execution-control chart.
type ECState struct {
	Name    string     `json:"name"`
	Comment string     `json:"comment"`
	X       Coordinate `json:"x"`
	Y       Coordinate `json:"y"`
	Action  *ECAction  `json:"ecAction,omitempty"`
}

// ECAction binds an algorithm and an output event to a state.
type ECAction struct {
	Algorithm string `json:"algorithm"`
	Output    string `json:"output"`
}

// ECTransition is a guarded edge between two states.
type ECTransition struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Condition   string     `json:"condition"`
	Comment     string     `json:"comment"`
	X           Coordinate `json:"x"`
	Y           Coordinate `json:"y"`
}

// Algorithm is a structured-text algorithm body.
type Algorithm struct {
	Name    string `json:"Name"`
	Comment string `json:"Comment"`
	Input   string `json:"Input"`
	Output  string `json:"Output"`
	Code    string `json:"Code"`
}

// AllowedVariableTypes lists the variable types the prompts permit.
var AllowedVariableTypes = []string{"int", "float", "bool", "string", "time"}

// =============================================================================
// Tolerant scalars
// =============================================================================

// Scalar is a literal the model may send as a string, number or boolean.
// It is always stored and re-encoded as a string. Booleans become the
// structured-text literals TRUE and FALSE; objects and arrays keep their
// compact JSON text.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(v)
	case bytes.Equal(data, []byte("true")):
		*s = "TRUE"
	case bytes.Equal(data, []byte("false")):
		*s = "FALSE"
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*s = Scalar(buf.String())
	}
	return nil
}

// Coordinate is a chart position. The model sometimes quotes numbers;
// anything that is not a number decodes as 0, since positions are only
// layout hints.
type Coordinate float64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = 0
	if len(data) == 0 {
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		text = strings.TrimSpace(v)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		*c = Coordinate(f)
	}
	return nil
}
