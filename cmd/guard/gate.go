// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuard/cmd/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/corpus"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/llm"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/services"
	"github.com/AleutianAI/AleutianGuard/services/planner"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/memindex"
	weaviatestore "github.com/AleutianAI/AleutianGuard/services/retrieval/weaviate"
)

// gatePipeline is the in-process assembly of the answer gate for CLI
// runs: the same components the gate server wires, minus the HTTP
// surface. Ask, chat, eval, and redteam all run through one of these.
type gatePipeline struct {
	llmClient llm.LLMClient

	loader  corpus.Loader
	index   retrieval.VectorIndex
	indexer *retrieval.Indexer
	gateway *retrieval.Gateway

	store  *conversation.BadgerStore
	memory *conversation.Memory

	trail *audit.Trail
	gate  *services.AnswerGateService
}

// newGatePipeline assembles the full pipeline from the loaded config.
// With no Weaviate or embedding service configured it is entirely
// self-contained: local corpus, in-process index, hash embeddings.
func newGatePipeline(surface observability.Surface) (*gatePipeline, error) {
	cfg := config.Global
	p := &gatePipeline{}

	exportModelEnv(cfg.LLM)
	if err := p.initLLM(cfg.LLM.Backend); err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if err := p.initRetrieval(cfg); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}

	trail, err := audit.OpenTrail(cfg.Logging.Path)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	p.trail = trail

	store, err := conversation.OpenBadgerStore(cfg.State.Dir)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	p.store = store
	p.memory = conversation.NewMemory(store, p.llmClient)

	gateCfg := services.DefaultAnswerGateConfig()
	gateCfg.Temperature = cfg.LLM.Temperature
	if cfg.LLM.MaxTokens > 0 {
		gateCfg.MaxTokens = cfg.LLM.MaxTokens
	}
	if cfg.LLM.TimeoutSeconds > 0 {
		gateCfg.GenTimeout = time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	}
	gateCfg.Surface = surface

	p.gate = services.NewAnswerGateService(
		gateCfg,
		planner.NewPlanner(cfg.Tenants),
		p.indexer,
		p.gateway,
		guard.New(),
		p.llmClient,
		nil, // no Prometheus metrics in one-shot CLI runs
		audit.NewRecorder(p.trail, nil, nil),
	)
	return p, nil
}

// newIndexPipeline assembles only the corpus loader, vector index, and
// indexer. Used by the index command, which must not require LLM
// credentials.
func newIndexPipeline() (*gatePipeline, error) {
	p := &gatePipeline{}
	if err := p.initRetrieval(config.Global); err != nil {
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}
	return p, nil
}

// runOnce executes one complete gate run: memory recall, the pipeline
// itself (which appends the audit record), and masked persistence of the
// exchange.
func (p *gatePipeline) runOnce(ctx context.Context, tenant, query string, mode conversation.Mode) datatypes.GateResult {
	memoryContext, err := p.memory.Context(ctx, tenant, mode)
	if err != nil {
		slog.Warn("Could not load memory context", "tenant", tenant, "error", err)
		memoryContext = ""
	}

	req := datatypes.AskRequest{
		Tenant: tenant,
		Query:  query,
		Memory: string(mode),
		TopK:   config.Global.Retrieval.TopK,
	}
	result := p.gate.Process(ctx, req, memoryContext)

	if err := p.memory.Persist(ctx, tenant, mode, query, result.Answer); err != nil {
		slog.Warn("Could not persist conversation turn", "tenant", tenant, "error", err)
	}
	return result
}

// Close releases everything the pipeline holds. Safe on a partially
// constructed pipeline.
func (p *gatePipeline) Close() {
	if p.trail != nil {
		if err := p.trail.Close(); err != nil {
			slog.Warn("audit trail close error", "error", err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Warn("conversation store close error", "error", err)
		}
	}
	if closer, ok := p.loader.(*corpus.GCSLoader); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("corpus loader close error", "error", err)
		}
	}
}

func (p *gatePipeline) initLLM(backend string) error {
	var err error
	switch backend {
	case "groq":
		p.llmClient, err = llm.NewGroqClient()
	case "openai":
		p.llmClient, err = llm.NewOpenAIClient()
	case "ollama":
		p.llmClient, err = llm.NewOllamaClient()
	case "mock":
		p.llmClient = llm.NewMockClient()
	default:
		slog.Warn("Unknown LLM backend, defaulting to groq", "backend", backend)
		p.llmClient, err = llm.NewGroqClient()
	}
	return err
}

func (p *gatePipeline) initRetrieval(cfg config.GuardConfig) error {
	if strings.HasPrefix(cfg.Retrieval.DataDir, "gs://") {
		bucket, prefix := splitGCSPath(cfg.Retrieval.DataDir)
		loader, err := corpus.NewGCSLoader(context.Background(), corpus.GCSConfig{
			Bucket:          bucket,
			Prefix:          prefix,
			CredentialsFile: cfg.Retrieval.GCSCredentialsFile,
		}, cfg.Tenants)
		if err != nil {
			return fmt.Errorf("failed to create GCS corpus loader: %w", err)
		}
		p.loader = loader
	} else {
		p.loader = corpus.NewDirLoader(cfg.Retrieval.DataDir, cfg.Tenants)
	}

	var provider embed.Provider
	if cfg.Retrieval.EmbedServiceURL != "" {
		provider = embed.NewHTTPProvider(cfg.Retrieval.EmbedServiceURL)
	} else {
		provider = embed.NewHashProvider(cfg.Retrieval.EmbedDim)
	}

	if cfg.Retrieval.WeaviateURL != "" {
		store, err := weaviatestore.New(cfg.Retrieval.WeaviateURL, provider)
		if err != nil {
			slog.Warn("Weaviate unavailable, falling back to in-process index",
				"url", cfg.Retrieval.WeaviateURL, "error", err)
		} else {
			p.index = store
		}
	}
	if p.index == nil {
		p.index = memindex.New(provider)
	}

	p.indexer = retrieval.NewIndexer(p.index, p.loader)
	p.gateway = retrieval.NewGateway(p.index)
	return nil
}

// exportModelEnv bridges the configured model name into the environment
// variables the backend clients read. An explicitly set variable wins
// over the config file.
func exportModelEnv(cfg config.LLMConfig) {
	if cfg.Model == "" {
		return
	}
	var envVar string
	switch cfg.Backend {
	case "groq":
		envVar = "GROQ_MODEL"
	case "openai":
		envVar = "OPENAI_MODEL"
	case "ollama":
		envVar = "OLLAMA_MODEL"
	default:
		return
	}
	if os.Getenv(envVar) == "" {
		os.Setenv(envVar, cfg.Model)
	}
}

// validateTenant rejects tenants outside the configured universe before
// any pipeline work happens.
func validateTenant(tenant string) error {
	for _, t := range config.Global.Tenants {
		if t == tenant {
			return nil
		}
	}
	return fmt.Errorf("unknown tenant %q (valid: %s)", tenant, strings.Join(config.Global.Tenants, ", "))
}

// splitGCSPath splits "gs://bucket/prefix/dir" into bucket and prefix.
func splitGCSPath(path string) (bucket, prefix string) {
	trimmed := strings.TrimPrefix(path, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix
}
