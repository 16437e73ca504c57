// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gate service.
//
// This file contains the request, response, and state types for the
// answer-gate pipeline. Refusal kinds and messages live in services/guard;
// the classifier plan lives in services/planner.
package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianGuard/services/planner"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single query. Checked in
	// bytes, not runes, to bound memory before classification runs.
	MaxQueryBytes = 8 * 1024 // 8KB

	// DefaultTopK is the retrieval depth when the request does not set one.
	DefaultTopK = 6

	// MaxTopK bounds the retrieval depth a request may ask for.
	MaxTopK = 50
)

// Final decisions carried in every GateResult.
const (
	DecisionAnswer = "answer"
	DecisionRefuse = "refuse"
)

// =============================================================================
// Pipeline States
// =============================================================================

// GateState identifies a stage of the answer-gate pipeline. States are
// recorded on trace spans and surfaced in audit records; they are not
// part of the wire contract.
type GateState string

const (
	StateInit       GateState = "INIT"
	StateClassified GateState = "CLASSIFIED"
	StateRetrieved  GateState = "RETRIEVED"
	StateGuarded    GateState = "GUARDED"
	StateGenerated  GateState = "GENERATED"
	StateAnswered   GateState = "ANSWERED"
	StateRefused    GateState = "REFUSED"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// gateValidate is the validator instance for gate datatypes.
var gateValidate *validator.Validate

func init() {
	gateValidate = validator.New()
	_ = gateValidate.RegisterValidation("querybytes", validateQueryBytes)
}

// validateQueryBytes rejects queries above MaxQueryBytes. Byte length,
// not rune count, so oversized multi-byte payloads are caught too.
func validateQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Ask Request
// =============================================================================

// AskRequest is the body for POST /v1/ask and the CLI one-shot surface.
//
// # Fields
//
//   - Tenant: Required. The active tenant identifier (U1..U4). The HTTP
//     layer may override this from the resolved request identity.
//   - Query: Required. The raw user question. PII is masked before the
//     query reaches classification; the raw form never leaves the gate.
//   - Memory: Optional. Conversation memory mode: none, buffer, summary.
//     Default: none.
//   - TopK: Optional. Retrieval depth per namespace. Default: 6.
//
// # Validation
//
//   - Tenant: required, max 32 chars
//   - Query: required, max 8KB
//   - Memory: one of none|buffer|summary when set
//   - TopK: 0..50 (0 means "use default")
type AskRequest struct {
	Tenant string `json:"tenant" validate:"required,max=32"`
	Query  string `json:"query" validate:"required,querybytes"`
	Memory string `json:"memory" validate:"omitempty,oneof=none buffer summary"`
	TopK   int    `json:"top_k" validate:"gte=0,lte=50"`
}

// Validate validates the AskRequest fields after JSON binding.
func (r *AskRequest) Validate() error {
	return gateValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *AskRequest) EnsureDefaults() {
	if r.Memory == "" {
		r.Memory = "none"
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// =============================================================================
// Gate Result
// =============================================================================

// GateResult is the uniform outcome of one answer-gate invocation. It is
// returned by the pipeline service, serialized on the ask endpoint, and
// copied into the audit trail. Exactly one is produced per invocation,
// whether the run answered or refused.
//
// # Fields
//
//   - Answer: The generated answer, or one of the canonical refusal
//     strings. Never empty.
//   - Plan: The classifier plan for the masked query.
//   - RetrievedDocIDs: Doc ids returned by retrieval before the access
//     guard ran. Empty when the run refused before retrieval.
//   - FinalDecision: "answer" or "refuse".
//   - RefusalReason: The refusal kind (InjectionDetected, AccessDenied,
//     LeakageRisk) when FinalDecision is "refuse"; nil otherwise.
//   - LatencyMS: Wall-clock duration of the invocation in milliseconds.
type GateResult struct {
	Answer          string       `json:"answer"`
	Plan            planner.Plan `json:"plan"`
	RetrievedDocIDs []string     `json:"retrieved_doc_ids"`
	FinalDecision   string       `json:"final_decision"`
	RefusalReason   *string      `json:"refusal_reason"`
	LatencyMS       int64        `json:"latency_ms"`
}

// Refused reports whether this result ended in a refusal.
func (r *GateResult) Refused() bool {
	return r.FinalDecision == DecisionRefuse
}

// =============================================================================
// Ask Response
// =============================================================================

// AskResponse wraps a GateResult with request correlation fields for the
// HTTP surface.
type AskResponse struct {
	ResponseID string `json:"response_id"`
	Tenant     string `json:"tenant"`
	Timestamp  int64  `json:"timestamp"`
	GateResult
}

// NewAskResponse creates an AskResponse with generated correlation fields.
func NewAskResponse(tenant string, result GateResult) *AskResponse {
	return &AskResponse{
		ResponseID: uuid.NewString(),
		Tenant:     tenant,
		Timestamp:  time.Now().UnixMilli(),
		GateResult: result,
	}
}

// =============================================================================
// Index Endpoint Types
// =============================================================================

// IndexResponse is the body for POST /v1/index.
type IndexResponse struct {
	Status    string `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// =============================================================================
// Memory Endpoint Types
// =============================================================================

// MemoryTurn is one persisted conversation turn as exposed on the wire.
// Content is stored masked, so this never carries raw PII.
type MemoryTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MemoryResponse is the body for GET /v1/memory/:tenant.
type MemoryResponse struct {
	Tenant  string       `json:"tenant"`
	Turns   []MemoryTurn `json:"turns"`
	Summary string       `json:"summary,omitempty"`
}
