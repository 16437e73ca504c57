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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/corpus"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/memindex"
)

// docsLoader is a canned corpus source for indexer tests.
type docsLoader struct {
	docs []corpus.Document
	err  error
}

func (l *docsLoader) Load(context.Context) ([]corpus.Document, error) {
	return l.docs, l.err
}

// =============================================================================
// HandleIndex Tests
// =============================================================================

func TestHandleIndex_Success(t *testing.T) {
	loader := &docsLoader{docs: []corpus.Document{
		{DocID: "PUB_GUIDE", Tenant: "public", Visibility: "public", Content: "Welcome to the platform."},
		{DocID: "U1_NOTES", Tenant: "U1", Visibility: "private", Content: "Quarterly numbers live here."},
	}}
	indexer := retrieval.NewIndexer(memindex.New(embed.NewHashProvider(32)), loader)

	router := gin.New()
	router.POST("/v1/index", HandleIndex(indexer))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/index", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.IndexResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.ElapsedMS, int64(0))
}

func TestHandleIndex_LoaderFailure(t *testing.T) {
	loader := &docsLoader{err: errors.New("manifest unreadable")}
	indexer := retrieval.NewIndexer(memindex.New(embed.NewHashProvider(32)), loader)

	router := gin.New()
	router.POST("/v1/index", HandleIndex(indexer))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/index", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "index build failed")
}

// =============================================================================
// Memory Handler Tests
// =============================================================================

func memoryRouter(memory *conversation.Memory) *gin.Engine {
	router := gin.New()
	router.GET("/v1/memory/:tenant", HandleGetMemory(memory, nil))
	router.DELETE("/v1/memory/:tenant", HandleClearMemory(memory, nil))
	return router
}

func TestHandleGetMemory(t *testing.T) {
	memory := newTestMemory(t)
	require.NoError(t, memory.Persist(context.Background(), "U1", conversation.ModeBuffer,
		"what reports exist?", "Two reports are on file."))

	router := memoryRouter(memory)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/memory/U1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.MemoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "U1", resp.Tenant)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, "user", resp.Turns[0].Role)
	assert.Equal(t, "what reports exist?", resp.Turns[0].Content)
	assert.Equal(t, "assistant", resp.Turns[1].Role)
}

func TestHandleGetMemory_EmptyTenant(t *testing.T) {
	router := memoryRouter(newTestMemory(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/memory/U4", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.MemoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "U4", resp.Tenant)
	assert.Empty(t, resp.Turns)
}

func TestHandleClearMemory(t *testing.T) {
	memory := newTestMemory(t)
	require.NoError(t, memory.Persist(context.Background(), "U2", conversation.ModeBuffer,
		"remember this", "noted"))

	router := memoryRouter(memory)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/v1/memory/U2", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)
	assert.Contains(t, w.Body.String(), `"tenant":"U2"`)

	turns, err := memory.Turns(context.Background(), "U2", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

// =============================================================================
// Audit Stream Tests
// =============================================================================

func TestHandleAuditStream_DeliversRecords(t *testing.T) {
	hub := audit.NewHub()
	defer hub.Shutdown()

	router := gin.New()
	router.GET("/v1/audit/stream", HandleAuditStream(hub))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/audit/stream"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Broadcast(audit.NewRecord("U1", "what datasets?", "none", datatypes.GateResult{
		Answer:          "Two datasets.",
		RetrievedDocIDs: []string{"PUB_GUIDE_chunk_0"},
		FinalDecision:   datatypes.DecisionAnswer,
	}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var rec audit.Record
	require.NoError(t, json.Unmarshal(payload, &rec))
	assert.Equal(t, "U1", rec.TenantID)
	assert.Equal(t, "what datasets?", rec.Query)
	assert.Equal(t, datatypes.DecisionAnswer, rec.FinalDecision)
}

func TestHandleAuditStream_NilHub(t *testing.T) {
	router := gin.New()
	router.GET("/v1/audit/stream", HandleAuditStream(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/audit/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "audit stream not configured")
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestHealthCheck_MethodNotRouted(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
