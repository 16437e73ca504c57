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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
)

// HandleIndex serves POST /v1/index: a full corpus walk and upsert.
//
// Concurrent calls coalesce inside the indexer, so hammering this
// endpoint costs one rebuild, not many. The gate also rebuilds lazily
// per ask; this endpoint exists to warm the index ahead of traffic and
// to pick up corpus changes on demand.
func HandleIndex(indexer *retrieval.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleIndex")
		defer span.End()

		start := time.Now()
		if err := indexer.BuildOrUpdate(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Index build failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "index build failed"})
			return
		}

		elapsed := time.Since(start).Milliseconds()
		slog.Info("Index build complete", "elapsed_ms", elapsed)
		c.JSON(http.StatusOK, datatypes.IndexResponse{Status: "ok", ElapsedMS: elapsed})
	}
}
