// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command deviceforge runs the DeviceForge generation service.
//
// # Usage
//
//	# Start the HTTP/SSE server
//	deviceforge serve --config configs/deviceforge.yaml
//
//	# Run one generation in the terminal
//	deviceforge generate --kind ai_recommend --prompt "sort parcels by size" --pretty
//	deviceforge generate --kind project_creation --file project.json
//
//	# Print the effective configuration with secrets masked
//	deviceforge config
//
// # Environment Variables
//
// Every setting can be overridden with a DEVICEFORGE_* variable, for
// example DEVICEFORGE_PORT, DEVICEFORGE_LLM_MODEL and DEVICEFORGE_API_KEY.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		os.Exit(1)
	}
}
