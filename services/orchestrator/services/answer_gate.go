// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the gate server.
//
// This package contains service structs that encapsulate the answer-gate
// pipeline, separating it from HTTP handlers. Services are responsible for:
//   - Sequencing the pipeline stages (mask, classify, retrieve, guard, generate)
//   - Enforcing refusal precedence and the uniform result contract
//   - Recording metrics and audit records for every run
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/llm"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianGuard/services/planner"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// answerGateTracer is the OpenTelemetry tracer for AnswerGateService operations.
var answerGateTracer = otel.Tracer("aleutianguard.orchestrator.services.answer_gate")

// Compile-time interface implementation check.
var _ AnswerGater = (*AnswerGateService)(nil)

// =============================================================================
// Interfaces
// =============================================================================

// AnswerGater defines the contract for running one query through the
// guarded question-answering pipeline.
//
// # Description
//
// This interface abstracts the full gate run so HTTP handlers, the CLI,
// and the evaluation harness share one entry point. An implementation
// masks the query, classifies it, retrieves candidate chunks, enforces
// tenant access, and either generates a cited answer or refuses with one
// of the canonical refusal messages.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The reference
// implementation is stateless per run; concurrent runs share only the
// injected index and generation clients.
//
// # Example
//
//	result := gate.Process(ctx, datatypes.AskRequest{
//	    Tenant: "U1",
//	    Query:  "What datasets do I have?",
//	}, "")
//	if result.Refused() {
//	    fmt.Println(*result.RefusalReason)
//	}
type AnswerGater interface {
	// Process runs the pipeline to completion and returns the uniform
	// result record. It never returns an error; failures surface as
	// refusals inside the result.
	Process(ctx context.Context, req datatypes.AskRequest, memoryContext string) datatypes.GateResult
}

// =============================================================================
// Configuration
// =============================================================================

// Generation and external-call defaults applied by NewAnswerGateService
// when the corresponding config field is zero.
const (
	defaultMaxTokens       = 400
	defaultIndexTimeout    = 60 * time.Second
	defaultRetrieveTimeout = 10 * time.Second
	defaultGenTimeout      = 30 * time.Second
)

// AnswerGateConfig carries the per-service knobs for the gate pipeline.
//
// # Fields
//
//   - Temperature: Sampling temperature for generation. The gate runs
//     deterministically by default (0.0) so evaluation runs are stable.
//   - MaxTokens: Upper bound on generated answer length.
//   - IndexTimeout: Bound on the idempotent index build-or-update call.
//   - RetrieveTimeout: Bound on one retrieval fan-out.
//   - GenTimeout: Bound on one generation call.
//   - Surface: Metrics label naming the entry point running the pipeline
//     (http, cli, eval, redteam).
//
// Every external call is bounded by one of these timeouts in addition to
// whatever deadline the caller's context already carries.
type AnswerGateConfig struct {
	Temperature     float32
	MaxTokens       int
	IndexTimeout    time.Duration
	RetrieveTimeout time.Duration
	GenTimeout      time.Duration
	Surface         observability.Surface
}

// DefaultAnswerGateConfig returns the shipped pipeline defaults.
func DefaultAnswerGateConfig() AnswerGateConfig {
	return AnswerGateConfig{
		Temperature:     0.0,
		MaxTokens:       defaultMaxTokens,
		IndexTimeout:    defaultIndexTimeout,
		RetrieveTimeout: defaultRetrieveTimeout,
		GenTimeout:      defaultGenTimeout,
		Surface:         observability.SurfaceHTTP,
	}
}

// =============================================================================
// Service
// =============================================================================

// AnswerGateService is the reference AnswerGater implementation.
//
// The service holds no per-run state. Refusal precedence is fixed:
// injection, then cross-tenant prohibition, then an empty admitted set,
// then a model-emitted refusal. Leakage-risk classification is advisory
// and rides along in the plan without terminating the run.
type AnswerGateService struct {
	cfg         AnswerGateConfig
	classifier  *planner.Planner
	indexer     *retrieval.Indexer
	gateway     *retrieval.Gateway
	accessGuard *guard.Guard
	llmClient   llm.LLMClient
	metrics     *observability.GateMetrics
	recorder    *audit.Recorder
}

// NewAnswerGateService creates an AnswerGateService.
//
// # Inputs
//
//   - cfg: Pipeline knobs. Zero-valued fields fall back to the shipped
//     defaults so a partially filled config still runs bounded.
//   - classifier: Query classifier. Must not be nil.
//   - indexer: Idempotent corpus indexer. Must not be nil.
//   - gateway: Retrieval gateway over the vector index. Must not be nil.
//   - accessGuard: Tenant ACL and PII guard. Must not be nil.
//   - llmClient: Generation capability. Must not be nil.
//   - metrics: Gate metrics. May be nil; recording becomes a no-op.
//   - recorder: Audit recorder. May be nil; auditing becomes a no-op.
//
// # Example
//
//	gate := NewAnswerGateService(
//	    DefaultAnswerGateConfig(),
//	    planner.Default(), indexer, gateway, guard.New(),
//	    llmClient, observability.DefaultMetrics, recorder,
//	)
func NewAnswerGateService(
	cfg AnswerGateConfig,
	classifier *planner.Planner,
	indexer *retrieval.Indexer,
	gateway *retrieval.Gateway,
	accessGuard *guard.Guard,
	llmClient llm.LLMClient,
	metrics *observability.GateMetrics,
	recorder *audit.Recorder,
) *AnswerGateService {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = defaultRetrieveTimeout
	}
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = defaultGenTimeout
	}
	if cfg.Surface == "" {
		cfg.Surface = observability.SurfaceHTTP
	}
	return &AnswerGateService{
		cfg:         cfg,
		classifier:  classifier,
		indexer:     indexer,
		gateway:     gateway,
		accessGuard: accessGuard,
		llmClient:   llmClient,
		metrics:     metrics,
		recorder:    recorder,
	}
}

// =============================================================================
// Core Processing Methods
// =============================================================================

// Process runs one query through the gate end-to-end.
//
// # Description
//
// The processing flow is:
//  1. Mask PII in the raw query before anything else sees it
//  2. Classify the masked query; injection refuses before retrieval so a
//     hostile query never learns which documents exist, cross-tenant
//     prohibition refuses next
//  3. Bring the index in line with the corpus (idempotent, degradable)
//  4. Retrieve candidates from the tenant and public namespaces
//  5. Enforce tenant access and mask admitted snippet text
//  6. Generate a cited answer from the admitted evidence
//
// Every refusal point short-circuits with a canonical refusal message.
// The caller never observes a transport error or stack trace; generation
// failures convert to AccessDenied and are never retried here.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing. External calls are
//     additionally bounded by the configured timeouts.
//   - req: The ask request. Defaults are applied before processing.
//   - memoryContext: Opaque, already-rendered conversation history. The
//     gate forwards it to generation verbatim and never mutates it.
//     Empty means no history.
//
// # Outputs
//
//   - datatypes.GateResult: Complete result record with answer or refusal,
//     the plan, pre-guard doc ids, final decision, and latency. Process
//     never returns an error.
func (s *AnswerGateService) Process(ctx context.Context, req datatypes.AskRequest, memoryContext string) datatypes.GateResult {
	ctx, span := answerGateTracer.Start(ctx, "AnswerGateService.Process")
	defer span.End()

	start := time.Now()
	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("gate.tenant", req.Tenant),
		attribute.String("gate.memory_mode", req.Memory),
		attribute.Int("gate.top_k", req.TopK),
		attribute.String("gate.state", string(datatypes.StateInit)),
	)

	s.metrics.RunStarted(s.cfg.Surface)
	defer s.metrics.RunEnded(s.cfg.Surface)

	// finish stamps the bookkeeping every exit path shares: latency,
	// decision metrics, final span attributes, and the audit record.
	finish := func(result datatypes.GateResult) datatypes.GateResult {
		result.LatencyMS = time.Since(start).Milliseconds()
		if result.RetrievedDocIDs == nil {
			result.RetrievedDocIDs = []string{}
		}
		state := datatypes.StateAnswered
		if result.Refused() {
			state = datatypes.StateRefused
			if result.RefusalReason != nil {
				s.metrics.RecordRefusal(req.Tenant, *result.RefusalReason)
				span.SetAttributes(attribute.String("gate.refusal_reason", *result.RefusalReason))
			}
		}
		s.metrics.RecordDecision(s.cfg.Surface, req.Tenant, result.FinalDecision)
		s.metrics.ObserveGateDuration(result.FinalDecision, time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("gate.state", string(state)),
			attribute.String("gate.final_decision", result.FinalDecision),
			attribute.Int64("gate.latency_ms", result.LatencyMS),
		)
		s.recorder.Record(ctx, audit.NewRecord(req.Tenant, req.Query, req.Memory, result))
		slog.Info("Gate run complete",
			"tenant", req.Tenant,
			"decision", result.FinalDecision,
			"latency_ms", result.LatencyMS)
		return result
	}

	// Step 1: Mask PII in the raw query before anything else sees it.
	maskStart := time.Now()
	maskedQuery, queryMasked := guard.MaskPII(req.Query)
	s.metrics.ObserveStage(observability.StageMask, time.Since(maskStart).Seconds())
	if queryMasked {
		s.metrics.RecordRedactions(observability.SiteQuery, 1)
		slog.Info("Masked PII in incoming query", "tenant", req.Tenant)
	}

	// Step 2: Classify the masked query. Injection refuses before
	// retrieval so a flagged query never touches the index.
	planStart := time.Now()
	plan := s.classifier.Classify(maskedQuery, req.Tenant)
	s.metrics.ObserveStage(observability.StagePlan, time.Since(planStart).Seconds())
	span.SetAttributes(
		attribute.String("gate.state", string(datatypes.StateClassified)),
		attribute.Bool("gate.plan.injection", plan.Injection),
		attribute.Bool("gate.plan.prohibited", plan.Prohibited),
		attribute.Bool("gate.plan.leakage_risk", plan.LeakageRisk),
	)

	if plan.Injection {
		slog.Warn("Injection attempt refused", "tenant", req.Tenant)
		return finish(refusalResult(guard.KindInjectionDetected, plan, nil))
	}
	if plan.Prohibited {
		slog.Warn("Cross-tenant access attempt refused", "tenant", req.Tenant)
		return finish(refusalResult(guard.KindAccessDenied, plan, nil))
	}
	if plan.LeakageRisk {
		// Advisory. The query mask and the access guard keep PII out of
		// everything the caller sees; the flag rides along in the plan
		// and the audit trail.
		slog.Warn("Leakage-risk phrasing detected", "tenant", req.Tenant)
	}

	// Step 3: Bring the index in line with the corpus. The call is
	// idempotent and collapses concurrent rebuilds. On failure the run
	// continues against whatever the index already holds; a missing
	// namespace contributes zero hits downstream.
	indexCtx, cancelIndex := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	if err := s.indexer.BuildOrUpdate(indexCtx); err != nil {
		slog.Warn("Index build-or-update failed, serving from existing index", "error", err)
		span.AddEvent("index_rebuild_skipped", trace.WithAttributes(
			attribute.String("gate.index_error", err.Error())))
	}
	cancelIndex()

	// Step 4: Retrieve candidates from the tenant and public namespaces.
	fetchStart := time.Now()
	fetchCtx, cancelFetch := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
	hits, err := s.gateway.Fetch(fetchCtx, plan.RetrievalQuery, req.Tenant, req.TopK)
	cancelFetch()
	s.metrics.ObserveStage(observability.StageRetrieve, time.Since(fetchStart).Seconds())
	if err != nil {
		slog.Error("Retrieval failed", "tenant", req.Tenant, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return finish(refusalResult(guard.KindAccessDenied, plan, nil))
	}

	retrievedDocIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		retrievedDocIDs = append(retrievedDocIDs, hit.DocID)
	}
	s.metrics.ObserveRetrievalHits(req.Tenant, len(hits))
	span.SetAttributes(
		attribute.String("gate.state", string(datatypes.StateRetrieved)),
		attribute.Int("gate.retrieved_hits", len(hits)),
	)

	// Step 5: Enforce tenant access and mask admitted snippet text. An
	// empty admitted set is an explicit refusal, not an empty answer.
	guardStart := time.Now()
	decision := s.accessGuard.Enforce(hits, req.Tenant)
	s.metrics.ObserveStage(observability.StageGuard, time.Since(guardStart).Seconds())
	if decision.Refused() {
		span.SetAttributes(attribute.String("gate.state", string(datatypes.StateGuarded)))
		return finish(refusalResult(decision.Refusal.Kind, plan, retrievedDocIDs))
	}

	admitted := decision.Allowed
	maskedSnippets := 0
	for _, hit := range admitted {
		if hit.PIIFlag {
			maskedSnippets++
		}
	}
	s.metrics.RecordRedactions(observability.SiteSnippet, maskedSnippets)
	span.SetAttributes(
		attribute.String("gate.state", string(datatypes.StateGuarded)),
		attribute.Int("gate.admitted_hits", len(admitted)),
		attribute.Int("gate.masked_snippets", maskedSnippets),
	)

	// Step 6: Compose the generation request from the admitted evidence
	// and invoke generation. Any failure converts to AccessDenied and is
	// never retried here.
	userPrompt := buildUserPrompt(memoryContext, maskedQuery, admitted)

	genStart := time.Now()
	genCtx, cancelGen := context.WithTimeout(ctx, s.cfg.GenTimeout)
	answer, err := s.llmClient.Generate(genCtx, systemPrompt, userPrompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(s.cfg.Temperature),
		MaxTokens:   llm.IntPtr(s.cfg.MaxTokens),
	})
	cancelGen()
	s.metrics.ObserveStage(observability.StageGenerate, time.Since(genStart).Seconds())
	if err != nil {
		slog.Error("Generation failed", "tenant", req.Tenant, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return finish(refusalResult(guard.KindAccessDenied, plan, retrievedDocIDs))
	}
	span.SetAttributes(attribute.String("gate.state", string(datatypes.StateGenerated)))

	// Step 7: An answer that opens with the refusal marker is a
	// model-level refusal and passes through with its own reason.
	if guard.IsRefusal(answer) {
		reason := guard.ParseReason(answer)
		return finish(datatypes.GateResult{
			Answer:          answer,
			Plan:            plan,
			RetrievedDocIDs: retrievedDocIDs,
			FinalDecision:   datatypes.DecisionRefuse,
			RefusalReason:   &reason,
		})
	}

	return finish(datatypes.GateResult{
		Answer:          answer,
		Plan:            plan,
		RetrievedDocIDs: retrievedDocIDs,
		FinalDecision:   datatypes.DecisionAnswer,
	})
}

// =============================================================================
// Private Methods
// =============================================================================

// refusalResult builds the terminal record for a refusal kind. The doc id
// list distinguishes pre-retrieval refusals (nil, normalized to empty by
// the caller) from post-retrieval ones (the pre-guard ids).
func refusalResult(kind guard.Kind, plan planner.Plan, docIDs []string) datatypes.GateResult {
	refusal := guard.NewRefusal(kind)
	reason := refusal.Reason()
	return datatypes.GateResult{
		Answer:          refusal.Message(),
		Plan:            plan,
		RetrievedDocIDs: docIDs,
		FinalDecision:   datatypes.DecisionRefuse,
		RefusalReason:   &reason,
	}
}
