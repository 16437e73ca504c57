package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/middleware"
)

// memoryInspectTurns caps how many turns the inspection endpoint returns.
const memoryInspectTurns = 50

// HandleGetMemory serves GET /v1/memory/:tenant: recent masked turns plus
// the rolling summary when one exists. Turns are stored masked, so this
// endpoint never exposes raw PII.
func HandleGetMemory(memory *conversation.Memory, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := middleware.BindTenant(c, auditor, c.Param("tenant"))
		if !ok {
			return
		}

		turns, err := memory.Turns(c.Request.Context(), tenant, memoryInspectTurns)
		if err != nil {
			slog.Error("Failed to load memory turns", "tenant", tenant, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load memory"})
			return
		}
		summary, err := memory.Summary(c.Request.Context(), tenant)
		if err != nil {
			slog.Warn("Failed to load memory summary", "tenant", tenant, "error", err)
			summary = ""
		}

		resp := datatypes.MemoryResponse{
			Tenant:  tenant,
			Turns:   make([]datatypes.MemoryTurn, 0, len(turns)),
			Summary: summary,
		}
		for _, turn := range turns {
			resp.Turns = append(resp.Turns, datatypes.MemoryTurn{
				Role:      turn.Role,
				Content:   turn.Content,
				Timestamp: turn.Timestamp,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleClearMemory serves DELETE /v1/memory/:tenant: wipes the tenant's
// turns and summary.
func HandleClearMemory(memory *conversation.Memory, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := middleware.BindTenant(c, auditor, c.Param("tenant"))
		if !ok {
			return
		}

		if err := memory.Clear(c.Request.Context(), tenant); err != nil {
			slog.Error("Failed to clear memory", "tenant", tenant, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear memory"})
			return
		}

		slog.Info("Memory cleared", "tenant", tenant)
		c.JSON(http.StatusOK, gin.H{"status": "success", "tenant": tenant})
	}
}
