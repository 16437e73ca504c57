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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/services"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
)

// SetupRoutes registers the gate server's HTTP surface.
//
// /health and /metrics are unauthenticated; everything under /v1 passes
// through AuthMiddleware and RateLimitMiddleware. With DefaultOptions both
// are no-ops, so the open-source single-box deployment is unaffected.
//
// Optional subsystems degrade by omission: a nil indexer drops /v1/index,
// a nil memory drops the /v1/memory routes, a nil hub drops the live audit
// stream. The gate itself is mandatory.
func SetupRoutes(router *gin.Engine, gate services.AnswerGater, memory *conversation.Memory,
	indexer *retrieval.Indexer, hub *audit.Hub, rateLimit middleware.RateLimitConfig,
	opts extensions.ServiceOptions) {

	if gate == nil {
		panic("routes: SetupRoutes requires a non-nil answer gate")
	}
	// A zero-value ServiceOptions literal leaves fields nil; treat each
	// nil field as its no-op default.
	if opts.AuthProvider == nil {
		opts.AuthProvider = &extensions.NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(
		middleware.AuthMiddleware(opts.AuthProvider, opts.AuditLogger),
		middleware.RateLimitMiddleware(rateLimit, opts.AuditLogger),
	)
	{
		v1.POST("/ask", handlers.HandleAsk(gate, memory, opts.MessageFilter, opts.AuditLogger))

		if indexer != nil {
			v1.POST("/index", handlers.HandleIndex(indexer))
		}

		if memory != nil {
			mem := v1.Group("/memory")
			{
				mem.GET("/:tenant", handlers.HandleGetMemory(memory, opts.AuditLogger))
				mem.DELETE("/:tenant", handlers.HandleClearMemory(memory, opts.AuditLogger))
			}
		}

		if hub != nil {
			v1.GET("/audit/stream", handlers.HandleAuditStream(hub))
		}
	}
}
