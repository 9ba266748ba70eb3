// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator assembles the DeviceForge generation service.
//
// # Description
//
// The service wires together:
//
//   - registry: pending connections plus the background reaper
//   - pipeline: the generation orchestrator
//   - llm: the OpenAI-compatible upstream client
//   - handlers/routes: the gin HTTP surface with SSE streaming
//   - observability: Prometheus metrics and OpenTelemetry tracing
//
// # Request flow
//
//	POST /v1/connections ──► registry.Create ──► {connection_id}
//	GET  /v1/connections/:id/stream
//	        │
//	        ▼
//	pipeline.Orchestrator.Stream ──► session.Send ──► llm.OpenAIClient
//	        │
//	        ▼
//	handlers.SSEWriter ──► event: status | device_config | complete | error | close
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/DeviceForge/services/generator/middleware"
	"github.com/AleutianAI/DeviceForge/services/generator/observability"
	"github.com/AleutianAI/DeviceForge/services/generator/pipeline"
	"github.com/AleutianAI/DeviceForge/services/generator/registry"
	"github.com/AleutianAI/DeviceForge/services/generator/routes"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the generation HTTP service.
type Service interface {
	// Run serves HTTP until ctx is done, then shuts down gracefully.
	//
	// # Description
	//
	// Starts the connection reaper and the HTTP server. When ctx is
	// cancelled the server stops accepting connections and waits up to
	// ShutdownTimeout for open streams. Resources are released on return.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server failed to start or to shut down.
	Run(ctx context.Context) error

	// Router returns the gin engine for tests.
	Router() *gin.Engine

	// Close releases resources of a service that will not be Run.
	Close()
}

// Option customizes New.
type Option func(*service)

// WithChatClient replaces the upstream client. No API key is needed then.
func WithChatClient(client llm.ChatClient) Option {
	return func(s *service) { s.client = client }
}

// WithPrometheusRegistry uses reg for metrics instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(s *service) { s.promRegistry = reg }
}

// WithTraceWriter sends spans of the stdout exporter to w instead of stderr.
func WithTraceWriter(w io.Writer) Option {
	return func(s *service) { s.traceWriter = w }
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Effective configuration.
//   - router: gin engine with all routes.
//   - registry: Pending connections.
//   - reaper: Removes expired connections.
//   - orchestrator: Runs generations.
//   - client: Upstream client.
//   - metrics: Nil when metrics are disabled.
//   - promRegistry: Source of /metrics.
//   - traceWriter: Destination of the stdout span exporter.
//   - tracerCleanup: Flushes the span exporter; nil without tracing.
type service struct {
	config        Config
	router        *gin.Engine
	registry      *registry.Registry
	reaper        *registry.Reaper
	orchestrator  *pipeline.Orchestrator
	client        llm.ChatClient
	metrics       *observability.Metrics
	promRegistry  *prometheus.Registry
	traceWriter   io.Writer
	tracerCleanup func(context.Context)
}

// New creates the service.
//
// # Description
//
// Initialization order: tracing, metrics, registry and reaper, upstream
// client, orchestrator, router. Nothing is started until Run.
//
// # Inputs
//
//   - cfg: Configuration, typically from LoadConfig.
//   - opts: Optional overrides.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid configuration or a component failed to initialize.
func New(cfg Config, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &service{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Telemetry.Tracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if cfg.Telemetry.Metrics {
		s.initMetrics()
	}

	s.registry = registry.New(registry.Config{
		Timeout:  cfg.Connections.Timeout,
		Observer: s.registryObserver(),
	})
	s.reaper = registry.NewReaper(s.registry, registry.ReaperConfig{Interval: cfg.Connections.ReapInterval})
	s.metrics.RegisterLiveConnections(s.registry.Len)

	if s.client == nil {
		client, err := NewChatClient(cfg, s.metrics)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		s.client = client
	}

	orch, err := pipeline.New(s.client, s.registry, cfg.Pipeline(), s.metrics)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	s.orchestrator = orch

	s.initRouter()
	return s, nil
}

// NewChatClient builds the OpenAI-compatible upstream client.
//
// # Inputs
//
//   - cfg: Configuration; LLM.APIKey must be set.
//   - metrics: Optional call observer.
func NewChatClient(cfg Config, metrics *observability.Metrics) (*llm.OpenAIClient, error) {
	var opts []llm.Option
	if metrics != nil {
		opts = append(opts, llm.WithObserver(metrics))
	}
	client, err := llm.NewOpenAIClient(cfg.OpenAI(), opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Using OpenAI-compatible LLM backend", "base_url", cfg.LLM.BaseURL, "model", client.Model())
	return client, nil
}

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	if err := s.reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connection reaper: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting generation server", "port", s.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down generation server", "timeout", s.config.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() {
	s.cleanup()
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the span exporter and the global tracer provider.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	traceExporter, closeExporter, err := s.newSpanExporter(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.serviceName())))
	if err != nil {
		closeExporter()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	slog.Info("Tracing enabled",
		"exporter", s.config.Telemetry.Exporter,
		"endpoint", s.config.Telemetry.OTelEndpoint)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		closeExporter()
	}, nil
}

// newSpanExporter builds the configured exporter. The returned func
// releases its transport after the provider has been shut down.
func (s *service) newSpanExporter(ctx context.Context) (sdktrace.SpanExporter, func(), error) {
	if s.config.Telemetry.Exporter == TraceExporterStdout {
		w := s.traceWriter
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exporter, func() {}, nil
	}

	conn, err := grpc.NewClient(s.config.Telemetry.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	closeConn := func() {
		if err := conn.Close(); err != nil {
			slog.Warn("failed to close OTLP connection", "error", err)
		}
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		closeConn()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, closeConn, nil
}

func (s *service) initMetrics() {
	if s.promRegistry == nil {
		s.promRegistry = prometheus.NewRegistry()
		s.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewMetrics(s.promRegistry)
	slog.Info("Initialized Prometheus metrics")
}

// registryObserver avoids storing a typed nil in the interface.
func (s *service) registryObserver() registry.Observer {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

func (s *service) initRouter() {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger())
	if s.config.Telemetry.Tracing {
		s.router.Use(otelgin.Middleware(s.serviceName()))
	}
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))

	deps := routes.Dependencies{
		Store:          s.registry,
		Streamer:       s.orchestrator,
		CategoriesPath: s.config.CategoriesPath,
		KeepAlive:      s.config.Server.KeepAlive,
	}
	if s.promRegistry != nil && s.config.Telemetry.Metrics {
		deps.Gatherer = s.promRegistry
	}
	routes.SetupRoutes(s.router, deps)
}

func (s *service) serviceName() string {
	if name := strings.TrimSpace(s.config.Telemetry.ServiceName); name != "" {
		return name
	}
	return "deviceforge"
}

// cleanup stops the reaper and flushes the tracer. Safe to call twice.
func (s *service) cleanup() {
	if s.reaper != nil {
		if err := s.reaper.Stop(); err != nil {
			slog.Warn("Connection reaper stop error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

var _ Service = (*service)(nil)
