// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP handlers for the gate server.
//
// Handlers are closure constructors: each takes its dependencies and
// returns a gin.HandlerFunc, so routes.go stays a plain wiring table.
// Policy refusals are successful HTTP responses (200 with a refusal
// body); error statuses are reserved for malformed requests and
// infrastructure failures.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/services"
)

var handlersTracer = otel.Tracer("aleutianguard.orchestrator.handlers")

// HandleAsk serves POST /v1/ask: one question through the full gate
// pipeline.
//
// The handler owns the boundary concerns around the pipeline: request
// binding and validation, tenant binding, the enterprise message filter
// (input, history context, and output), and conversation memory. The
// pipeline itself runs inside the AnswerGater.
//
// A message blocked by the filter is answered with the canonical
// LeakageRisk refusal and a filter.blocked audit event; the gate pipeline
// never sees the message.
func HandleAsk(gate services.AnswerGater, memory *conversation.Memory,
	filter extensions.MessageFilter, auditor extensions.AuditLogger) gin.HandlerFunc {

	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()
		start := time.Now()

		var req datatypes.AskRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the ask request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.EnsureDefaults()

		tenant, ok := middleware.BindTenant(c, auditor, req.Tenant)
		if !ok {
			return
		}
		req.Tenant = tenant
		span.SetAttributes(attribute.String("gate.tenant", tenant))

		// Enterprise input filter. Blocked queries never reach the pipeline.
		if filter != nil {
			result, err := filter.FilterInput(ctx, req.Query)
			switch {
			case err != nil:
				slog.Warn("Input filter failed, passing query through", "error", err)
			case result.WasBlocked:
				emitFilterBlocked(ctx, auditor, tenant, "input", result.BlockReason)
				c.JSON(http.StatusOK, datatypes.NewAskResponse(tenant, filterRefusal(start)))
				return
			case result.WasModified:
				req.Query = result.Filtered
			}
		}

		mode, err := conversation.ParseMode(req.Memory)
		if err != nil {
			// Validate already restricts the field; this guards direct callers.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Conversation history is advisory context: failures degrade to a
		// standalone question rather than failing the request.
		memoryContext := ""
		if memory != nil && mode != conversation.ModeNone {
			memoryContext, err = memory.Context(ctx, tenant, mode)
			if err != nil {
				slog.Warn("Memory load failed, continuing without history",
					"tenant", tenant, "error", err)
				memoryContext = ""
			}
		}
		if memoryContext != "" && filter != nil {
			result, err := filter.FilterContext(ctx, memoryContext)
			switch {
			case err != nil:
				slog.Warn("Context filter failed, passing history through", "error", err)
			case result.WasBlocked:
				emitFilterBlocked(ctx, auditor, tenant, "context", result.BlockReason)
				memoryContext = ""
			case result.WasModified:
				memoryContext = result.Filtered
			}
		}

		result := gate.Process(ctx, req, memoryContext)

		// Enterprise output filter runs on everything that leaves the gate,
		// refusal strings included.
		if filter != nil {
			filtered, err := filter.FilterOutput(ctx, result.Answer)
			switch {
			case err != nil:
				slog.Warn("Output filter failed, passing answer through", "error", err)
			case filtered.WasBlocked:
				emitFilterBlocked(ctx, auditor, tenant, "output", filtered.BlockReason)
				refusal := filterRefusal(start)
				refusal.Plan = result.Plan
				refusal.RetrievedDocIDs = result.RetrievedDocIDs
				result = refusal
			case filtered.WasModified:
				result.Answer = filtered.Filtered
			}
		}

		// Persist the exchange after every run, refusals included, so a
		// follow-up question can reference what was actually said.
		if memory != nil && mode != conversation.ModeNone {
			if err := memory.Persist(ctx, tenant, mode, req.Query, result.Answer); err != nil {
				slog.Warn("Memory persist failed", "tenant", tenant, "error", err)
			}
		}

		span.SetAttributes(attribute.String("gate.final_decision", result.FinalDecision))
		c.JSON(http.StatusOK, datatypes.NewAskResponse(tenant, result))
	}
}

// filterRefusal builds the gate result returned when the enterprise
// filter blocks a message. The wire shape matches a pipeline refusal so
// clients handle both the same way.
func filterRefusal(start time.Time) datatypes.GateResult {
	refusal := guard.NewRefusal(guard.KindLeakageRisk)
	reason := refusal.Reason()
	return datatypes.GateResult{
		Answer:          refusal.Message(),
		RetrievedDocIDs: []string{},
		FinalDecision:   datatypes.DecisionRefuse,
		RefusalReason:   &reason,
		LatencyMS:       time.Since(start).Milliseconds(),
	}
}

// emitFilterBlocked sends the filter.blocked boundary event. Audit
// failures are logged and swallowed.
func emitFilterBlocked(ctx context.Context, auditor extensions.AuditLogger, tenant, site, reason string) {
	if auditor == nil {
		return
	}
	event := extensions.AuditEvent{
		EventType: extensions.EventFilterBlocked,
		Timestamp: time.Now().UTC(),
		Tenant:    tenant,
		Outcome:   "blocked",
		Metadata: extensions.NewMetadata().
			Set("filter_site", site).
			Set("filter_rule", reason),
	}
	if err := auditor.Log(ctx, event); err != nil {
		slog.Warn("audit event log failed", "event_type", event.EventType, "error", err)
	}
}
