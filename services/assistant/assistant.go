// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant wires the CCNL assistant service.
//
// # Overview
//
// New builds every component from a Config: checkpoint store, LLM client
// (optionally behind the response cache), passage retriever, agent graph,
// streaming orchestrator, metrics and the gin router. Run serves HTTP until
// its context is cancelled and then shuts down gracefully.
//
// # Usage
//
//	cfg, err := assistant.LoadConfig(path)
//	if err != nil {
//	    return err
//	}
//	svc, err := assistant.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/agent"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/conversation"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/handlers"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/knowledge"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/middleware"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/observability"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/routes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/streaming"
	"github.com/AleutianAI/ccnl-assistant/services/llm"
	"github.com/AleutianAI/ccnl-assistant/services/storage/badger"
)

// ServiceName is reported as the OTel service.name resource attribute.
const ServiceName = "ccnl-assistant"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the assistant lifecycle.
//
// # Thread Safety
//
// Run must be called at most once. Router is safe to call concurrently.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then releases all resources.
	Run(ctx context.Context) error

	// Router returns the configured gin engine. Used by tests.
	Router() *gin.Engine

	// Close releases resources without serving. Safe to call after Run.
	Close()
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	logger *slog.Logger

	router         *gin.Engine
	registry       *prometheus.Registry
	weaviateClient *weaviate.Client
	checkpointDB   *badger.DB
	cacheDB        *badger.DB
	store          checkpoint.Store
	llmClient      llm.LLMClient
	healthChecks   map[string]handlers.HealthCheck

	tracerCleanup func(context.Context)
	closed        bool
}

// New builds the assistant service.
//
// # Description
//
// Initialization order: tracer, checkpoint store, LLM client and cache,
// passage retriever, metrics, router. Optional dependencies (trace export,
// Weaviate, response cache, persistent checkpoints) are skipped when their
// configuration is empty. Any resource opened before a failure is released.
//
// # Inputs
//
//   - cfg: Service configuration. Defaults are applied to zero fields.
//   - logger: Nil uses slog.Default().
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required component cannot be initialized.
func New(cfg Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		config:       applyConfigDefaults(cfg),
		logger:       logger,
		healthChecks: make(map[string]handlers.HealthCheck),
	}

	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init() error {
	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}
	if err := s.initCheckpointStore(); err != nil {
		return err
	}
	if err := s.initLLMClient(); err != nil {
		return err
	}
	if err := s.initWeaviate(); err != nil {
		return err
	}
	return s.initRouter()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting assistant server", slog.Int("port", s.config.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down assistant server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.cacheDB != nil {
		if err := s.cacheDB.Close(); err != nil {
			s.logger.Error("failed to close llm cache", slog.String("error", err.Error()))
		}
	}
	if s.checkpointDB != nil {
		if err := s.checkpointDB.Close(); err != nil {
			s.logger.Error("failed to close checkpoint store", slog.String("error", err.Error()))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
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

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	s.logger.Info("trace export enabled", slog.String("endpoint", s.config.OTelEndpoint))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		}
		_ = conn.Close()
	}
	return cleanup, nil
}

// initCheckpointStore opens the conversation state store. An empty
// CheckpointPath keeps state in memory for the life of the process.
func (s *service) initCheckpointStore() error {
	if s.config.CheckpointPath == "" {
		s.logger.Warn("CHECKPOINT_PATH not set, conversation state will not survive restarts")
		s.store = checkpoint.NewMemoryStore()
		return nil
	}

	bcfg := badger.DefaultConfig(s.config.CheckpointPath)
	bcfg.Logger = s.logger.With(slog.String("component", "checkpoint"))
	db, err := badger.Open(bcfg)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	s.checkpointDB = db

	store := checkpoint.NewBadgerStore(db)
	s.store = store
	s.healthChecks["checkpoint"] = func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	}
	s.logger.Info("checkpoint store opened", slog.String("path", s.config.CheckpointPath))
	return nil
}

// initLLMClient creates the configured backend and wraps it with the
// response cache when LLMCachePath is set.
func (s *service) initLLMClient() error {
	client, err := llm.NewClient(llm.ClientConfig{
		Backend:       s.config.LLMBackend,
		OpenAIAPIKey:  s.config.OpenAIAPIKey,
		OpenAIModel:   s.config.OpenAIModel,
		OpenAIBaseURL: s.config.OpenAIBaseURL,
		OllamaURL:     s.config.OllamaURL,
		OllamaModel:   s.config.OllamaModel,
	})
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	s.logger.Info("llm client initialized",
		slog.String("backend", s.config.LLMBackend),
		slog.String("model", client.Model()))

	if s.config.LLMCachePath == "" {
		s.llmClient = client
		return nil
	}

	bcfg := badger.DefaultConfig(s.config.LLMCachePath)
	bcfg.SyncWrites = false
	bcfg.Logger = s.logger.With(slog.String("component", "llm_cache"))
	db, err := badger.Open(bcfg)
	if err != nil {
		return fmt.Errorf("open llm cache: %w", err)
	}
	s.cacheDB = db
	s.llmClient = llm.NewCachedClient(client, db, s.config.LLMCacheTTL,
		s.logger.With(slog.String("component", "llm_cache")))
	return nil
}

// initWeaviate creates the passage store client if WeaviateURL is set.
//
// # Limitations
//
//   - Returns nil error if WeaviateURL is empty (retrieval disabled)
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		s.logger.Info("Weaviate URL not configured, answering without retrieval")
		return nil
	}

	client, err := NewWeaviateClient(weaviateURL)
	if err != nil {
		return err
	}
	s.weaviateClient = client

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := knowledge.EnsureSchema(ctx, client); err != nil {
		// The service still answers; retrieval failures are logged per turn.
		s.logger.Warn("failed to ensure passage schema", slog.String("error", err.Error()))
	}

	s.healthChecks["weaviate"] = func(ctx context.Context) error {
		ready, err := client.Misc().ReadyChecker().Do(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return errors.New("not ready")
		}
		return nil
	}
	s.logger.Info("Weaviate client initialized", slog.String("url", weaviateURL))
	return nil
}

// initRouter builds the metrics registry, the turn pipeline and the gin
// engine.
func (s *service) initRouter() error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewStreamingMetrics(s.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	params := llm.GenerationParams{}
	var retriever knowledge.Retriever
	if s.weaviateClient != nil {
		retriever = knowledge.NewWeaviateRetriever(s.weaviateClient, s.logger)
	}

	graph := agent.NewChatGraph(agent.ChatGraphConfig{
		LLM:            s.llmClient,
		Store:          s.store,
		Retriever:      retriever,
		RetrievalLimit: s.config.RetrievalLimit,
		Params:         params,
		Logger:         s.logger,
	})
	orchestrator := streaming.NewOrchestrator(streaming.Config{
		Graph:             graph,
		LLM:               s.llmClient,
		Params:            params,
		KeepaliveInterval: s.config.KeepaliveInterval,
		ChunkSize:         s.config.StreamChunkSize,
		Metrics:           metrics,
		Logger:            s.logger,
	})
	chat := handlers.NewStreamingChatHandler(
		datatypes.NewChatValidator(s.config.MaxContentChars),
		conversation.NewMerger(s.store, s.logger),
		orchestrator,
		metrics,
		s.logger,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.RateLimit(middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)))

	routes.SetupRoutes(router, routes.Dependencies{
		Chat:           chat,
		Store:          s.store,
		HealthChecks:   s.healthChecks,
		MetricsHandler: promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
		Logger:         s.logger,
	})
	s.router = router
	return nil
}

// NewWeaviateClient parses rawURL and creates a Weaviate client for it.
//
// # Outputs
//
//   - *weaviate.Client: Client for the given host.
//   - error: Non-nil if the URL has no scheme or host.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

var _ Service = (*service)(nil)
