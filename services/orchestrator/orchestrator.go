// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the AleutianGuard gate server.
//
// The package wires every component of the tenant-isolation gate: the
// corpus loader, the vector index, the query planner, the access guard,
// the LLM client, conversation memory, the audit trail, and the HTTP
// surface that fronts them. Construction is all-or-nothing for the
// mandatory pieces (audit trail, conversation store, LLM client) and
// degradable for the optional ones (Weaviate, Influx, metrics).
//
// # Enterprise Integration
//
// The orchestrator supports dependency injection via extensions.ServiceOptions,
// enabling AleutianEnterprise to provide custom implementations of:
//   - AuthProvider: Tenant authentication (OIDC, API keys)
//   - AuthzProvider: Role-based access control
//   - AuditLogger: Boundary security event logging
//   - MessageFilter: DLP filtering of queries, history, and answers
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := orchestrator.Config{Port: 12210}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
//
// Enterprise (with custom implementations):
//
//	opts := &extensions.ServiceOptions{
//	    AuthProvider:  enterpriseAuth,
//	    AuditLogger:   enterpriseAudit,
//	}
//	svc, err := orchestrator.New(cfg, opts)
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/pkg/validation"
	"github.com/AleutianAI/AleutianGuard/services/corpus"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/llm"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/retention"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianGuard/services/orchestrator/services"
	"github.com/AleutianAI/AleutianGuard/services/planner"
	"github.com/AleutianAI/AleutianGuard/services/retrieval"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/embed"
	"github.com/AleutianAI/AleutianGuard/services/retrieval/memindex"
	weaviatestore "github.com/AleutianAI/AleutianGuard/services/retrieval/weaviate"
)

// serviceName labels traces and the otelgin middleware.
const serviceName = "gateserver"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gate server.
//
// # Description
//
// Service abstracts the server lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// Held resources (audit trail, conversation store, tracer) are
	// released when Run returns.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify the registered routes.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gate server configuration.
//
// # Description
//
// Config centralizes all configuration for the gate server. Values can be
// populated from environment variables, config files, or programmatically
// for testing. All fields have working defaults; a zero Config starts a
// self-contained single-box gate with the in-process index and hash
// embeddings.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port and LLM backend
//	cfg := Config{
//	    Port:       8080,
//	    LLMBackend: "ollama",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Empty leaves Gin's own GIN_MODE handling in effect.
	GinMode string

	// LLMBackend specifies the generation provider.
	// Valid values: "groq", "openai", "ollama", "mock"
	// Default: "groq"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL. If empty or
	// unreachable, the gate falls back to the in-process vector index.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// EmbedServiceURL points at an external embedding service exposing
	// /embed and /batch_embed. If empty, deterministic hash embeddings
	// are used.
	EmbedServiceURL string

	// EmbedDim is the hash embedding dimensionality. Only used when
	// EmbedServiceURL is empty. Default: embed.DefaultHashDim
	EmbedDim int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// TraceExporter selects where spans go: "otlp" ships them to the
	// collector, "stdout" pretty-prints them locally, "none" disables
	// tracing. Default: "otlp"
	TraceExporter string

	// EnableMetrics enables the Prometheus metrics registry.
	EnableMetrics bool

	// DataDir is the corpus root holding manifest.csv, tenant_acl.csv,
	// and the document files. A "gs://bucket/prefix" value selects the
	// GCS corpus loader instead of the local one. Default: "data"
	DataDir string

	// GCSCredentialsFile optionally names a service account key for the
	// GCS corpus loader. Empty uses ambient credentials.
	GCSCredentialsFile string

	// StateDir is the Badger directory for conversation memory.
	// Default: "state/memory"
	StateDir string

	// AuditPath is the JSONL decision trail file. Default: "logs/run.jsonl"
	AuditPath string

	// InfluxURL, InfluxToken, InfluxOrg, and InfluxBucket configure the
	// optional InfluxDB decision sink. Empty URL disables it.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// TenantTokens is a static "token:tenant,token:tenant" table. When
	// set and no enterprise AuthProvider is injected, bearer tokens are
	// required and bind each request to its tenant.
	TenantTokens string

	// RateRPS caps sustained requests per second per tenant (or client
	// IP before authentication). Zero disables rate limiting.
	RateRPS float64

	// RateBurst is the rate limiter burst size. Zero derives it from
	// RateRPS.
	RateBurst int

	// RetentionDays prunes conversation turns older than this many days
	// in a background sweep. Zero keeps history until a tenant clears it.
	RetentionDays int

	// Tenants is the closed tenant universe. Default: planner.DefaultTenants
	Tenants []string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service owns every long-lived component of the gate:
//   - HTTP routing via Gin
//   - the corpus loader and vector index behind the retrieval gateway
//   - the answer gate pipeline
//   - conversation memory over Badger
//   - the hash-chained audit trail with optional live hub and Influx sink
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config Config
	opts   extensions.ServiceOptions

	router    *gin.Engine
	llmClient llm.LLMClient

	loader  corpus.Loader
	index   retrieval.VectorIndex
	indexer *retrieval.Indexer
	gateway *retrieval.Gateway

	gate    *services.AnswerGateService
	memory  *conversation.Memory
	store   *conversation.BadgerStore
	sweeper *retention.Sweeper
	metrics *observability.GateMetrics

	trail    *audit.Trail
	hub      *audit.Hub
	influx   *audit.InfluxSink
	recorder *audit.Recorder

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a gate server Service with the given configuration.
//
// # Description
//
// New initializes all gate components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics (optional)
//  4. Builds the corpus loader and vector index (Weaviate or in-process)
//  5. Opens the hash-chained audit trail, live hub, and Influx sink
//  6. Opens the Badger conversation store
//  7. Creates the LLM client for the configured backend
//  8. Assembles the answer gate pipeline
//  9. Registers HTTP routes with the extension options
//
// If opts is nil, DefaultOptions() is used (no-op implementations). A
// configured TenantTokens table installs static token authentication
// unless an enterprise AuthProvider was injected.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for enterprise features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run gate server
//   - error: Non-nil if a mandatory component fails to initialize
//
// # Limitations
//
//   - The audit trail and conversation store must be writable; failure
//     to open either is fatal by design.
//   - Weaviate and Influx are optional; their failures degrade with a
//     logged warning.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Tenant IDs become Badger key prefixes, Weaviate class names, and
	// Influx tags; reject a universe that would corrupt any of them.
	if err := validation.ValidateTenantIDs(s.config.Tenants); err != nil {
		return nil, fmt.Errorf("invalid tenant universe: %w", err)
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if err := s.applyTenantTokens(); err != nil {
		return nil, err
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics. The default registry survives across
	// instances, so reuse an already-initialized set.
	if s.config.EnableMetrics {
		if observability.DefaultMetrics == nil {
			observability.InitMetrics()
		}
		s.metrics = observability.DefaultMetrics
		slog.Info("Prometheus gate metrics enabled")
	}

	if err := s.initRetrieval(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}

	if err := s.initAudit(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	if err := s.initConversation(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Memory needs the LLM client for summary-mode compaction.
	s.memory = conversation.NewMemory(s.store, s.llmClient)

	if s.config.RetentionDays > 0 {
		s.sweeper = retention.NewSweeper(s.store, nil, retention.Config{
			MaxAge:  time.Duration(s.config.RetentionDays) * 24 * time.Hour,
			Tenants: s.config.Tenants,
		})
	}

	s.gate = services.NewAnswerGateService(
		services.DefaultAnswerGateConfig(),
		planner.NewPlanner(s.config.Tenants),
		s.indexer,
		s.gateway,
		guard.New(),
		s.llmClient,
		s.metrics,
		s.recorder,
	)

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error. Cleanup
// of the audit trail, conversation store, and tracer is automatic on
// return.
func (s *service) Run() error {
	defer s.cleanup()

	if s.sweeper != nil {
		if err := s.sweeper.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting gate server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "groq"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = "otlp"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "state/memory"
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = "logs/run.jsonl"
	}
	if len(cfg.Tenants) == 0 {
		cfg.Tenants = planner.DefaultTenants
	}
	return cfg
}

// applyTenantTokens installs the static token provider when a token table
// is configured. An injected enterprise AuthProvider always wins.
func (s *service) applyTenantTokens() error {
	if s.config.TenantTokens == "" {
		return nil
	}
	if _, isNop := s.opts.AuthProvider.(*extensions.NopAuthProvider); !isNop && s.opts.AuthProvider != nil {
		slog.Info("TenantTokens ignored, an AuthProvider extension is installed")
		return nil
	}
	table, err := extensions.ParseTokenMap(s.config.TenantTokens)
	if err != nil {
		return fmt.Errorf("invalid tenant token table: %w", err)
	}
	s.opts.AuthProvider = extensions.NewStaticTokenProvider(table)
	slog.Info("Static token authentication enabled", "tokens", len(table))
	return nil
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Builds the span exporter selected by Config.TraceExporter: OTLP over
// gRPC against the configured collector (the connection is lazy; an
// absent collector costs dropped spans, not a failed start), a local
// pretty-printing stdout exporter, or none at all.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	if s.config.TraceExporter == "none" {
		return func(context.Context) {}, nil
	}

	var traceExporter sdktrace.SpanExporter
	switch s.config.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		traceExporter = exporter
	case "otlp":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		traceExporter = exporter
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.config.TraceExporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRetrieval builds the corpus loader, vector index, indexer, and
// retrieval gateway.
//
// # Description
//
// The corpus loader is local by default; a gs:// DataDir selects GCS.
// The vector index prefers Weaviate when configured and falls back to
// the in-process index on any client error, so a missing Weaviate
// degrades rather than blocks the gate.
func (s *service) initRetrieval() error {
	if strings.HasPrefix(s.config.DataDir, "gs://") {
		bucket, prefix := splitGCSPath(s.config.DataDir)
		loader, err := corpus.NewGCSLoader(context.Background(), corpus.GCSConfig{
			Bucket:          bucket,
			Prefix:          prefix,
			CredentialsFile: s.config.GCSCredentialsFile,
		}, s.config.Tenants)
		if err != nil {
			return fmt.Errorf("failed to create GCS corpus loader: %w", err)
		}
		s.loader = loader
		slog.Info("Corpus source: GCS", "bucket", bucket, "prefix", prefix)
	} else {
		s.loader = corpus.NewDirLoader(s.config.DataDir, s.config.Tenants)
		slog.Info("Corpus source: local directory", "dir", s.config.DataDir)
	}

	var provider embed.Provider
	if s.config.EmbedServiceURL != "" {
		provider = embed.NewHTTPProvider(s.config.EmbedServiceURL)
		slog.Info("Embeddings: external service", "url", s.config.EmbedServiceURL)
	} else {
		provider = embed.NewHashProvider(s.config.EmbedDim)
		slog.Info("Embeddings: deterministic hash provider")
	}

	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL != "" {
		store, err := weaviatestore.New(weaviateURL, provider)
		if err != nil {
			slog.Warn("Weaviate unavailable, falling back to in-process index",
				"url", weaviateURL, "error", err)
		} else {
			s.index = store
			slog.Info("Vector index: Weaviate", "url", weaviateURL)
		}
	}
	if s.index == nil {
		s.index = memindex.New(provider)
		slog.Info("Vector index: in-process")
	}

	s.indexer = retrieval.NewIndexer(s.index, s.loader).WithMetrics(s.metrics)
	s.gateway = retrieval.NewGateway(s.index)
	return nil
}

// initAudit opens the decision trail and its optional fan-outs. The
// JSONL trail is mandatory; Influx is best effort.
func (s *service) initAudit() error {
	trail, err := audit.OpenTrail(s.config.AuditPath)
	if err != nil {
		return err
	}
	s.trail = trail
	s.hub = audit.NewHub()

	if s.config.InfluxURL != "" {
		sink, err := audit.NewInfluxSink(s.config.InfluxURL, s.config.InfluxToken,
			s.config.InfluxOrg, s.config.InfluxBucket)
		if err != nil {
			slog.Warn("Influx sink disabled", "url", s.config.InfluxURL, "error", err)
		} else {
			s.influx = sink
			slog.Info("Influx decision sink enabled", "url", s.config.InfluxURL)
		}
	}

	s.recorder = audit.NewRecorder(s.trail, s.hub, s.influx)
	slog.Info("Audit trail opened", "path", s.config.AuditPath)
	return nil
}

// initConversation opens the Badger store backing per-tenant memory.
func (s *service) initConversation() error {
	store, err := conversation.OpenBadgerStore(s.config.StateDir)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// initLLMClient initializes the generation backend.
//
// # Limitations
//
//   - Only supports: groq, openai, ollama, mock
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
//     (GROQ_API_KEY, OPENAI_API_KEY, OLLAMA_HOST)
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "groq":
		s.llmClient, err = llm.NewGroqClient()
		slog.Info("Using Groq LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "mock":
		s.llmClient = llm.NewMockClient()
		slog.Info("Using mock LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to groq", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewGroqClient()
	}

	return err
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, s.gate, s.memory, s.indexer, s.hub,
		middleware.RateLimitConfig{RPS: s.config.RateRPS, Burst: s.config.RateBurst},
		s.opts)
}

// cleanup releases all resources held by the service. Called when Run()
// exits or on initialization failure; every branch tolerates a partially
// constructed service.
func (s *service) cleanup() {
	if s.sweeper != nil {
		if err := s.sweeper.Stop(); err != nil {
			slog.Warn("retention sweeper stop error", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Shutdown()
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.trail != nil {
		if err := s.trail.Close(); err != nil {
			slog.Warn("audit trail close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("conversation store close error", "error", err)
		}
	}
	if closer, ok := s.loader.(*corpus.GCSLoader); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("corpus loader close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
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

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
