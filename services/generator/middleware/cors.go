// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the generation service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultAllowedOrigins are the origins of the desktop front end.
var DefaultAllowedOrigins = []string{"http://localhost:17990", "app://."}

// CORS answers cross-origin requests from an allow-list of origins.
//
// # Description
//
// Requests whose Origin is in allowed get the matching
// Access-Control-Allow-Origin header; other origins get no CORS headers
// and are left to the browser to reject. Preflight OPTIONS requests from
// allowed origins are answered with 204 and not passed on. An entry of
// "*" allows every other origin with a literal "*" and no credentials;
// origins listed explicitly keep the echoed origin and credentials.
//
// # Inputs
//
//   - allowed: Exact origins, compared case-insensitively.
func CORS(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin == "*" {
			wildcard = true
			continue
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		_, ok := set[strings.ToLower(origin)]
		if !ok && !wildcard {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if ok {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
		} else {
			// browsers reject credentials on a wildcard response
			h.Set("Access-Control-Allow-Origin", "*")
		}

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
