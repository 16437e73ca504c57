// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

// GuardConfig is the CLI configuration, loaded from a YAML file. Every
// field has a working default; a missing file is replaced by a generated
// one so first runs work out of the box.
type GuardConfig struct {
	// LLM selects and tunes the generation backend.
	LLM LLMConfig `yaml:"llm"`

	// Retrieval controls the corpus source and query fan-out.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Logging holds the audit trail path and diagnostic log settings.
	Logging LoggingConfig `yaml:"logging"`

	// State points at local persistence (conversation memory).
	State StateConfig `yaml:"state"`

	// Tenants is the closed tenant universe.
	Tenants []string `yaml:"tenants"`
}

type LLMConfig struct {
	// Backend can be "groq", "openai", "ollama", or "mock".
	Backend string `yaml:"backend"`

	// Model is the generation model identifier. The backend-specific
	// environment variable (GROQ_MODEL, OPENAI_MODEL, OLLAMA_MODEL)
	// still wins when set.
	Model string `yaml:"model"`

	// Temperature is the sampling temperature. The gate defaults to 0.0
	// so evaluation runs stay reproducible.
	Temperature float32 `yaml:"temperature"`

	// MaxTokens bounds the generated answer length.
	MaxTokens int `yaml:"max_tokens"`

	// TimeoutSeconds bounds a single generation call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type RetrievalConfig struct {
	// TopK is the number of chunks fetched per namespace before access
	// filtering.
	TopK int `yaml:"top_k"`

	// DataDir is the corpus root holding manifest.csv, tenant_acl.csv,
	// and the document files. A gs://bucket/prefix value selects the
	// GCS loader.
	DataDir string `yaml:"data_dir"`

	// GCSCredentialsFile optionally names a service account key for a
	// gs:// DataDir. Empty uses ambient credentials.
	GCSCredentialsFile string `yaml:"gcs_credentials_file,omitempty"`

	// WeaviateURL enables the Weaviate index when set. Empty runs the
	// whole pipeline on the in-process index.
	WeaviateURL string `yaml:"weaviate_url,omitempty"`

	// EmbedServiceURL points at an external embedding service. Empty
	// uses deterministic hash embeddings.
	EmbedServiceURL string `yaml:"embed_service_url,omitempty"`

	// EmbedDim is the hash embedding dimensionality, 0 for the default.
	EmbedDim int `yaml:"embed_dim,omitempty"`
}

type LoggingConfig struct {
	// Path is the JSONL audit trail file.
	Path string `yaml:"path"`

	// Level is the diagnostic log level: debug, info, warn, or error.
	Level string `yaml:"level"`

	// Dir, when set, mirrors diagnostic logs into per-day files under
	// this directory in addition to stderr.
	Dir string `yaml:"dir,omitempty"`
}

type StateConfig struct {
	// Dir is the Badger directory for conversation memory.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() GuardConfig {
	return GuardConfig{
		LLM: LLMConfig{
			Backend:        "groq",
			Model:          "llama-3.1-8b-instant",
			Temperature:    0.0,
			MaxTokens:      400,
			TimeoutSeconds: 30,
		},
		Retrieval: RetrievalConfig{
			TopK:    6,
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Path:  "logs/run.jsonl",
			Level: "info",
		},
		State: StateConfig{
			Dir: "state/memory",
		},
		Tenants: []string{"U1", "U2", "U3", "U4"},
	}
}
