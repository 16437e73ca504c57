// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateserver starts the AleutianGuard gate HTTP server.
//
// This is the main entry point for the containerized gate service. It
// reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GATE_PORT: HTTP server port (default: 12210)
//   - GATE_DEPLOYMENT_MODE: standalone or distributed (default: standalone).
//     Standalone resolves unset companion URLs to empty (self-contained gate);
//     distributed resolves them to the compose service names.
//   - GATE_LLM_BACKEND: LLM provider - groq, openai, ollama, mock (default: groq)
//   - GATE_DATA_DIR: corpus root, local path or gs://bucket/prefix (default: data)
//   - GATE_STATE_DIR: Badger conversation store directory (default: state/memory)
//   - GATE_AUDIT_PATH: JSONL decision trail file (default: logs/run.jsonl)
//   - GATE_TENANT_TOKENS: static "token:tenant,token:tenant" auth table (optional)
//   - GATE_RATE_RPS: per-tenant sustained requests per second, 0 disables (optional)
//   - GATE_RATE_BURST: rate limiter burst size (optional)
//   - GATE_RETENTION_DAYS: prune conversation memory older than N days, 0 disables (optional)
//   - GATE_ENABLE_METRICS: expose Prometheus /metrics when "true" (optional)
//   - GATE_GCS_CREDENTIALS: service account key for a gs:// corpus (optional)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (WEAVIATE_URL is the deprecated alias)
//   - EMBED_SERVICE_URL: external embedding service URL (EMBEDDING_SERVICE_URL is the deprecated alias)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - GATE_TRACE_EXPORTER: span destination - otlp, stdout, none (default: otlp)
//   - INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET: decision metrics sink
//     (INFLUXDB_URL is the deprecated alias for INFLUX_URL)
//
// # Usage
//
//	# Build
//	go build -o gateserver ./cmd/gateserver
//
//	# Run
//	./gateserver
//
//	# Or via container
//	podman-compose up gateserver
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Companion-service URLs resolve through the deployment-mode router
	deploymentMode := getEnvString("GATE_DEPLOYMENT_MODE", "standalone")
	router := orchestrator.NewDefaultServiceRouter(deploymentMode)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:               getEnvInt("GATE_PORT", 12210),
		LLMBackend:         getEnvString("GATE_LLM_BACKEND", "groq"),
		WeaviateURL:        router.GetWeaviateURL(),
		EmbedServiceURL:    router.GetEmbedServiceURL(),
		OTelEndpoint:       getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		TraceExporter:      getEnvString("GATE_TRACE_EXPORTER", "otlp"),
		EnableMetrics:      getEnvBool("GATE_ENABLE_METRICS", false),
		DataDir:            getEnvString("GATE_DATA_DIR", "data"),
		GCSCredentialsFile: os.Getenv("GATE_GCS_CREDENTIALS"),
		StateDir:           getEnvString("GATE_STATE_DIR", "state/memory"),
		AuditPath:          getEnvString("GATE_AUDIT_PATH", "logs/run.jsonl"),
		InfluxURL:          router.GetInfluxDBURL(),
		InfluxToken:        os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:          os.Getenv("INFLUX_ORG"),
		InfluxBucket:       os.Getenv("INFLUX_BUCKET"),
		TenantTokens:       os.Getenv("GATE_TENANT_TOKENS"),
		RateRPS:            getEnvFloat("GATE_RATE_RPS", 0),
		RateBurst:          getEnvInt("GATE_RATE_BURST", 0),
		RetentionDays:      getEnvInt("GATE_RETENTION_DAYS", 0),
	}

	slog.Info("Starting gate server",
		"port", cfg.Port,
		"deployment_mode", deploymentMode,
		"llm_backend", cfg.LLMBackend,
		"data_dir", cfg.DataDir,
		"weaviate_url", cfg.WeaviateURL,
	)

	// Create the gate with default (no-op) extension options
	// Enterprise builds will pass custom ServiceOptions here
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create gate server: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gate server error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
