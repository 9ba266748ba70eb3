// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/DeviceForge/services/generator/handlers"
)

// Dependencies are the collaborators of the HTTP surface.
//
// # Fields
//
//   - Store: Creates connections.
//   - Streamer: Runs generations.
//   - Gatherer: Source of /metrics. Nil disables the endpoint.
//   - CategoriesPath: JSON file served at /v1/inputs/categories.
//   - KeepAlive: SSE ping interval; zero disables pings.
type Dependencies struct {
	Store          handlers.ConnectionStore
	Streamer       handlers.Streamer
	Gatherer       prometheus.Gatherer
	CategoriesPath string
	KeepAlive      time.Duration
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/status", handlers.Status)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/connections", handlers.HandleCreateConnection(deps.Store))
		v1.GET("/connections/:connectionId/stream", handlers.HandleStream(deps.Streamer, deps.KeepAlive))
		v1.POST("/projects", handlers.HandleCreateProject(deps.Store))
		v1.POST("/recommendations", handlers.HandleCreateRecommendation(deps.Store))
		v1.GET("/inputs/categories", handlers.HandleCategories(deps.CategoriesPath))
	}
}
