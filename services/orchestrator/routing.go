// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"log/slog"
	"os"
)

// =============================================================================
// ServiceRouter Interface
// =============================================================================

// ServiceRouter resolves the URLs of the gate's companion services.
//
// # Description
//
// ServiceRouter abstracts how the gate locates Weaviate, the external
// embedding service, and InfluxDB. The default implementation resolves
// each URL from environment variables with deployment-mode-aware
// fallbacks; tests substitute MockServiceRouter for fixed values.
//
// An empty URL is meaningful: it tells the orchestrator to run without
// that companion. An empty Weaviate URL selects the in-process vector
// index, an empty embedding URL selects deterministic hash embeddings,
// and an empty InfluxDB URL disables the decision sink. See Config for
// the matching field semantics.
type ServiceRouter interface {
	// GetWeaviateURL returns the Weaviate vector database URL, or ""
	// to use the in-process index.
	GetWeaviateURL() string

	// GetEmbedServiceURL returns the embedding service URL, or "" to
	// use hash embeddings.
	GetEmbedServiceURL() string

	// GetInfluxDBURL returns the InfluxDB decision-sink URL, or "" to
	// disable the sink.
	GetInfluxDBURL() string
}

// Compile-time interface compliance checks.
var (
	_ ServiceRouter = (*DefaultServiceRouter)(nil)
	_ ServiceRouter = (*MockServiceRouter)(nil)
)

// =============================================================================
// DefaultServiceRouter
// =============================================================================

// DefaultServiceRouter resolves companion-service URLs from environment
// variables with deployment-mode-aware defaults.
//
// # Description
//
// Each URL resolves in precedence order: the preferred environment
// variable, then a deprecated legacy variable (logged with a warning),
// then a default chosen by deployment mode.
//
// In "standalone" mode the gate runs self-contained on one box, so the
// Weaviate and InfluxDB defaults are empty and the orchestrator falls
// back to the in-process index and no decision sink. In "distributed"
// mode the defaults are the compose DNS names of the companion
// containers. Unknown modes are treated as distributed. The embedding
// service has no default in either mode; unset means hash embeddings.
//
// # Example
//
//	router := NewDefaultServiceRouter(os.Getenv("GATE_DEPLOYMENT_MODE"))
//	cfg.WeaviateURL = router.GetWeaviateURL()
type DefaultServiceRouter struct {
	deploymentMode string
}

// NewDefaultServiceRouter creates a router for the given deployment mode.
//
// # Inputs
//
//   - deploymentMode: "standalone" or "distributed". Anything else is
//     treated as "distributed".
//
// # Outputs
//
//   - *DefaultServiceRouter resolving URLs for that mode.
func NewDefaultServiceRouter(deploymentMode string) *DefaultServiceRouter {
	return &DefaultServiceRouter{deploymentMode: deploymentMode}
}

// GetWeaviateURL resolves the Weaviate URL.
//
// Precedence: WEAVIATE_SERVICE_URL, then the deprecated WEAVIATE_URL,
// then "" (standalone) or "http://weaviate:8080" (distributed).
func (r *DefaultServiceRouter) GetWeaviateURL() string {
	def := "http://weaviate:8080"
	if r.deploymentMode == "standalone" {
		def = ""
	}
	return resolveServiceURL("WEAVIATE_SERVICE_URL", "WEAVIATE_URL", def)
}

// GetEmbedServiceURL resolves the embedding service URL.
//
// Precedence: EMBED_SERVICE_URL, then the deprecated
// EMBEDDING_SERVICE_URL, then "" in both modes. There is no compose
// default because the embedding container is optional; the gate ships
// with hash embeddings.
func (r *DefaultServiceRouter) GetEmbedServiceURL() string {
	return resolveServiceURL("EMBED_SERVICE_URL", "EMBEDDING_SERVICE_URL", "")
}

// GetInfluxDBURL resolves the InfluxDB decision-sink URL.
//
// Precedence: INFLUX_URL, then the deprecated INFLUXDB_URL, then ""
// (standalone) or "http://influxdb:8086" (distributed).
func (r *DefaultServiceRouter) GetInfluxDBURL() string {
	def := "http://influxdb:8086"
	if r.deploymentMode == "standalone" {
		def = ""
	}
	return resolveServiceURL("INFLUX_URL", "INFLUXDB_URL", def)
}

// resolveServiceURL returns the preferred env var if set, then the
// legacy one with a deprecation warning, then the mode default.
func resolveServiceURL(preferredEnv, legacyEnv, def string) string {
	if v := os.Getenv(preferredEnv); v != "" {
		return v
	}
	if v := os.Getenv(legacyEnv); v != "" {
		slog.Warn("Deprecated environment variable in use",
			"deprecated", legacyEnv,
			"replacement", preferredEnv)
		return v
	}
	return def
}

// =============================================================================
// MockServiceRouter
// =============================================================================

// MockServiceRouter returns fixed URLs from its fields, ignoring the
// environment. Zero-value fields resolve to empty strings, which the
// orchestrator reads as "run without that companion". Test use only.
type MockServiceRouter struct {
	WeaviateURL     string
	EmbedServiceURL string
	InfluxDBURL     string
}

// GetWeaviateURL returns the configured WeaviateURL.
func (m *MockServiceRouter) GetWeaviateURL() string { return m.WeaviateURL }

// GetEmbedServiceURL returns the configured EmbedServiceURL.
func (m *MockServiceRouter) GetEmbedServiceURL() string { return m.EmbedServiceURL }

// GetInfluxDBURL returns the configured InfluxDBURL.
func (m *MockServiceRouter) GetInfluxDBURL() string { return m.InfluxDBURL }
