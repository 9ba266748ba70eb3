// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
)

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /status, the liveness probe of the desktop client.
func Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "DeviceForge generation service is running"})
}

// HandleCategories serves the input categories JSON file at path.
//
// # Description
//
// The file is read on every request so edits take effect without a
// restart. Its content must be valid JSON.
//
// # Outputs
//
//   - 200 with the file content.
//   - 404 if no file is configured or it does not exist.
//   - 500 if it cannot be read or is not JSON.
func HandleCategories(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if path == "" {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "categories not configured"})
			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "categories not found"})
				return
			}
			slog.Error("Failed to read categories", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to read categories"})
			return
		}
		if !json.Valid(data) {
			slog.Error("Categories file is not valid JSON", "path", path)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Categories file is invalid"})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	}
}
