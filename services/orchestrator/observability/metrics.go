// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the gate.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the answer
// gate pipeline. Metrics include:
//   - Decision counters (answer vs refuse, by tenant and surface)
//   - Refusal counters by refusal kind
//   - Per-stage latency histograms (mask, plan, retrieve, guard, generate)
//   - PII redaction counters by site
//   - Retrieval hit-count histograms
//   - In-flight request gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutianguard"

// Subsystem for gate pipeline metrics
const gateSubsystem = "gate"

// GateMetrics holds all Prometheus metrics for the answer gate.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring decisions,
// refusals, stage latency, and redaction volume. Initialize once at
// startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type GateMetrics struct {
	// RequestsTotal counts completed runs by surface, tenant, and decision.
	// Labels: surface (http, cli, eval, redteam), tenant, decision (answer, refuse)
	RequestsTotal *prometheus.CounterVec

	// RefusalsTotal counts refusals by tenant and refusal kind.
	// Labels: tenant, reason (Injection, Prohibited, AccessDenied, ...)
	RefusalsTotal *prometheus.CounterVec

	// StageDurationSeconds measures the latency of each pipeline stage.
	// Labels: stage (mask, plan, retrieve, guard, generate)
	StageDurationSeconds *prometheus.HistogramVec

	// GateDurationSeconds measures end-to-end run latency.
	// Labels: decision (answer, refuse)
	GateDurationSeconds *prometheus.HistogramVec

	// PIIRedactionsTotal counts redacted spans by site.
	// Labels: site (query, snippet, memory)
	PIIRedactionsTotal *prometheus.CounterVec

	// RetrievalHits measures how many chunks each retrieval returned
	// before guard filtering.
	// Labels: tenant
	RetrievalHits *prometheus.HistogramVec

	// InFlight tracks runs currently inside the pipeline.
	// Labels: surface
	InFlight *prometheus.GaugeVec

	// IndexedChunksTotal counts chunks written by indexing runs.
	// Labels: namespace (tenant_U1, tenant_public, ...)
	IndexedChunksTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of GateMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GateMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GateMetrics {
	DefaultMetrics = &GateMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "requests_total",
				Help:      "Total completed gate runs by surface, tenant, and decision",
			},
			[]string{"surface", "tenant", "decision"},
		),

		RefusalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "refusals_total",
				Help:      "Total refusals by tenant and refusal kind",
			},
			[]string{"tenant", "reason"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Latency of each gate pipeline stage in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage"},
		),

		GateDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end gate run latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"decision"},
		),

		PIIRedactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "pii_redactions_total",
				Help:      "Total redacted PII spans by site",
			},
			[]string{"site"},
		),

		RetrievalHits: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "retrieval_hits",
				Help:      "Chunks returned per retrieval before guard filtering",
				Buckets:   []float64{0, 1, 2, 4, 6, 10, 20, 50},
			},
			[]string{"tenant"},
		),

		InFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "in_flight_requests",
				Help:      "Runs currently inside the gate pipeline",
			},
			[]string{"surface"},
		),

		IndexedChunksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gateSubsystem,
				Name:      "indexed_chunks_total",
				Help:      "Chunks written to the index by namespace",
			},
			[]string{"namespace"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// Surface identifies which entry point ran the pipeline.
type Surface string

const (
	// SurfaceHTTP is the gate server's REST surface.
	SurfaceHTTP Surface = "http"

	// SurfaceCLI is a one-shot or REPL run from the command line.
	SurfaceCLI Surface = "cli"

	// SurfaceEval is the evaluation harness.
	SurfaceEval Surface = "eval"

	// SurfaceRedTeam is the adversarial prompt runner.
	SurfaceRedTeam Surface = "redteam"
)

// Stage identifies a pipeline stage for latency labeling.
type Stage string

const (
	// StageMask is query PII masking.
	StageMask Stage = "mask"

	// StagePlan is query classification.
	StagePlan Stage = "plan"

	// StageRetrieve is index search.
	StageRetrieve Stage = "retrieve"

	// StageGuard is ACL enforcement plus snippet masking.
	StageGuard Stage = "guard"

	// StageGenerate is the LLM call.
	StageGenerate Stage = "generate"
)

// RedactionSite identifies where a PII span was masked.
type RedactionSite string

const (
	// SiteQuery is the inbound user query.
	SiteQuery RedactionSite = "query"

	// SiteSnippet is a retrieved evidence snippet.
	SiteSnippet RedactionSite = "snippet"

	// SiteMemory is conversation history being persisted.
	SiteMemory RedactionSite = "memory"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordDecision records one completed run. A nil receiver is a no-op so
// lightweight callers can skip metrics entirely.
func (m *GateMetrics) RecordDecision(surface Surface, tenant, decision string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(surface), tenant, decision).Inc()
}

// RecordRefusal records a refusal and its kind.
func (m *GateMetrics) RecordRefusal(tenant, reason string) {
	if m == nil {
		return
	}
	m.RefusalsTotal.WithLabelValues(tenant, reason).Inc()
}

// ObserveStage records one stage's latency.
func (m *GateMetrics) ObserveStage(stage Stage, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(seconds)
}

// ObserveGateDuration records end-to-end run latency.
func (m *GateMetrics) ObserveGateDuration(decision string, seconds float64) {
	if m == nil {
		return
	}
	m.GateDurationSeconds.WithLabelValues(decision).Observe(seconds)
}

// RecordRedactions adds n redacted spans at the given site.
func (m *GateMetrics) RecordRedactions(site RedactionSite, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PIIRedactionsTotal.WithLabelValues(string(site)).Add(float64(n))
}

// ObserveRetrievalHits records the pre-guard hit count for one retrieval.
func (m *GateMetrics) ObserveRetrievalHits(tenant string, hits int) {
	if m == nil {
		return
	}
	m.RetrievalHits.WithLabelValues(tenant).Observe(float64(hits))
}

// RunStarted increments the in-flight gauge.
func (m *GateMetrics) RunStarted(surface Surface) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(string(surface)).Inc()
}

// RunEnded decrements the in-flight gauge.
func (m *GateMetrics) RunEnded(surface Surface) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(string(surface)).Dec()
}

// RecordIndexedChunks adds n chunks written to the given namespace.
func (m *GateMetrics) RecordIndexedChunks(namespace string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IndexedChunksTotal.WithLabelValues(namespace).Add(float64(n))
}
