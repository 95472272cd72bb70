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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/handlers"
)

// Dependencies are the handlers and stores the route table needs.
type Dependencies struct {
	Chat           handlers.StreamingChatHandler
	Store          checkpoint.Store
	HealthChecks   map[string]handlers.HealthCheck
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// SetupRoutes registers every assistant route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.Health(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", deps.Chat.HandleChatStream)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(deps.Store, deps.Logger))
		}
	}
}
