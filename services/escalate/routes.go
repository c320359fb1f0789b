// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package escalate

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all escalation routes with the router.
//
// Description:
//
//	Registers all /v1/escalate/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Conversation Endpoints:
//
//	POST /v1/escalate/conversation/start - Open a session, first exchange
//	POST /v1/escalate/conversation/continue - One exchange on a session
//	POST /v1/escalate/conversation/finalize - Produce the summary
//	GET  /v1/escalate/conversation/status/:id - Best-effort snapshot
//
// Tournament Endpoints:
//
//	POST /v1/escalate/tournament - Run a hypothesis tournament
//
// Health Endpoints:
//
//	GET  /v1/escalate/health - Health check
//	GET  /v1/escalate/ready - Readiness check
//	GET  /v1/escalate/stats - Aggregate call and session statistics
//
// Example:
//
//	service, _ := escalate.NewService(client, registry, escalate.DefaultServiceConfig())
//	handlers := escalate.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	escalate.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	esc := rg.Group("/escalate")
	{
		conv := esc.Group("/conversation")
		{
			conv.POST("/start", handlers.HandleStartConversation)
			conv.POST("/continue", handlers.HandleContinueConversation)
			conv.POST("/finalize", handlers.HandleFinalizeConversation)
			conv.GET("/status/:id", handlers.HandleConversationStatus)
		}

		esc.POST("/tournament", handlers.HandleTournament)

		esc.GET("/health", handlers.HandleHealth)
		esc.GET("/ready", handlers.HandleReady)
		esc.GET("/stats", handlers.HandleStats)
	}
}
