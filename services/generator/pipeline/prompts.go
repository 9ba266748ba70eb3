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
	"fmt"
	"strings"
	"text/template"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
)

// Prompts holds the prompt templates. They are text/template sources; a
// literal "{{" must be written as {{"{{"}}.
//
// # Template data
//
//   - System: none.
//   - DeviceList: .Requirement (flattened project), .Project (ProjectPayload).
//   - DeviceDetail: .Device (device name), .Index, .Total.
//   - Recommend: .Prompt.
type Prompts struct {
	System       string `yaml:"system" json:"system"`
	DeviceList   string `yaml:"device_list" json:"device_list"`
	DeviceDetail string `yaml:"device_detail" json:"device_detail"`
	Recommend    string `yaml:"recommend" json:"recommend"`
}

// DefaultPrompts returns the built-in prompt templates.
func DefaultPrompts() Prompts {
	return Prompts{
		System:       defaultSystemPrompt,
		DeviceList:   defaultDeviceListPrompt,
		DeviceDetail: defaultDeviceDetailPrompt,
		Recommend:    defaultRecommendPrompt,
	}
}

const defaultSystemPrompt = `You are an industrial automation device configuration expert. Your job is to help the user design and generate device configurations.

Workflow:
1. First extract the list of devices from the natural-language requirement.
2. Then generate a detailed technical configuration for each device.

Stay professional, output well-formed JSON and keep every configuration technically accurate.
Remember every device discussed earlier in this conversation.`

const defaultDeviceListPrompt = `Extract the list of device configurations from the following requirement:
{{.Requirement}}

Every device must have an input signal related to its function and an output signal describing the action it performs.

Example. Three known devices (conveyor, transplanter and elevator) form a material transfer line. Each device is driven by an actuator (output signal) and reports material state through a sensor (input signal).

Device        Function
Conveyor      Moves material horizontally from one workstation to the next
Transplanter  Changes the direction of material so it enters the next process
Elevator      Lifts material vertically to match workstation heights

For such a requirement the output has this format:

[
  {
    "device": "ConveyorBelt",
    "input_signal": "MaterialDetected",
    "output_signal": "MoveMaterial",
    "description": "Moves material between workstations"
  }
]

Write device names in English. Write every other field in the language of the requirement.`

const defaultDeviceDetailPrompt = `Now generate the detailed function-block configuration for device "{{.Device}}" ({{.Index}} of {{.Total}}).

Base it on what the device list we discussed says about "{{.Device}}".

Constraints:
1. Output JSON only, with no commentary.
2. Inside "Code" use \n for line breaks, never real line breaks.
3. "type" must be one of: int, float, bool, string, time.
4. Return the configuration of this one device only.

Format:

{
  "name": "{{.Device}}",
  "var_input": [
    {"name": "inputVar", "type": "bool", "description": "what it carries"}
  ],
  "var_output": [
    {"name": "outputVar", "type": "bool", "description": "what it carries"}
  ],
  "signal_input": [
    {"name": "inputSignal", "description": "what it triggers"}
  ],
  "signal_output": [
    {"name": "outputSignal", "description": "what it reports"}
  ],
  "InternalVars": [
    {"name": "IsRunning", "type": "bool", "InitalVaule": "FALSE", "description": "current run state"}
  ],
  "ECC": {
    "ECStates": [
      {"name": "Idle", "comment": "initial state", "x": 50, "y": 50},
      {
        "name": "Running",
        "comment": "device is running",
        "x": 200,
        "y": 50,
        "ecAction": {"algorithm": "Run", "output": "outputSignal"}
      }
    ],
    "ECTransitions": [
      {"source": "Idle", "destination": "Running", "condition": "inputSignal", "comment": "start received", "x": 125, "y": 30}
    ]
  },
  "Algorithms": [
    {"Name": "Run", "Comment": "drive the actuator", "Input": "inputSignal", "Output": "outputSignal", "Code": "IF inputSignal THEN\n    outputVar := TRUE;\nEND_IF;"}
  ]
}`

const defaultRecommendPrompt = `From the user's requirement, produce a JSON requirement table for a system configuration. It contains the system name, a description and a list of devices; each device has a name and a functional description.

Output JSON only, without code fences, in exactly this format:

{
  "name": "system name",
  "description": "short functional description of the system",
  "blocks": [
    {"name": "device name", "description": "device function"}
  ]
}

The user's requirement is:
{{.Prompt}}`

// =============================================================================
// Rendering
// =============================================================================

// promptSet is the parsed form of Prompts.
type promptSet struct {
	system       *template.Template
	deviceList   *template.Template
	deviceDetail *template.Template
	recommend    *template.Template
}

func parsePrompts(p Prompts) (*promptSet, error) {
	defaults := DefaultPrompts()
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}

	set := &promptSet{}
	var err error
	if set.system, err = template.New("system").Parse(pick(p.System, defaults.System)); err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	if set.deviceList, err = template.New("device_list").Option("missingkey=error").Parse(pick(p.DeviceList, defaults.DeviceList)); err != nil {
		return nil, fmt.Errorf("parse device list prompt: %w", err)
	}
	if set.deviceDetail, err = template.New("device_detail").Option("missingkey=error").Parse(pick(p.DeviceDetail, defaults.DeviceDetail)); err != nil {
		return nil, fmt.Errorf("parse device detail prompt: %w", err)
	}
	if set.recommend, err = template.New("recommend").Option("missingkey=error").Parse(pick(p.Recommend, defaults.Recommend)); err != nil {
		return nil, fmt.Errorf("parse recommend prompt: %w", err)
	}
	return set, nil
}

type deviceListData struct {
	Requirement string
	Project     datatypes.ProjectPayload
}

type deviceDetailData struct {
	Device string
	Index  int
	Total  int
}

type recommendData struct {
	Prompt string
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// flattenProject turns a project payload into the requirement text of
// the device list prompt, one line per fact.
func flattenProject(p datatypes.ProjectPayload) string {
	lines := []string{
		"System name: " + p.Name,
		"System description: " + p.Description,
	}
	for _, b := range p.Blocks {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			name = "Unnamed block"
		}
		desc := strings.TrimSpace(b.Description)
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("Block: %s, function: %s", name, desc))
	}
	return strings.Join(lines, "\n")
}
