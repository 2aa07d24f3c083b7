// Package server implements the HTTP API for document ingestion and
// retrieval-augmented answering. The server is started by the `docq serve`
// CLI command.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/docq-ai/docq-go/internal/logging"
)

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Answer == nil {
		return nil, fmt.Errorf("server: answer service must not be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("server: ingest pipeline must not be nil")
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("server: queue producer must not be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout covers synchronous uploads that embed row by row.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(registry),
	}

	if cfg.Verifier == nil {
		log.Warn("auth: no verifier configured, API is unauthenticated")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	// protected wraps an API handler with the per-route middleware: rate
	// limiting first, then authentication.
	protected := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(s.authMiddleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protected(s.handleChat))
	mux.Handle("POST /api/rag-query", protected(s.handleRAGQuery))
	mux.Handle("POST /api/ingest", protected(s.handleIngest))
	mux.Handle("POST /api/upload-excel", protected(s.handleUploadExcel))
	mux.Handle("POST /api/upload-excel-direct", protected(s.handleUploadExcelDirect))
	mux.Handle("POST /api/upload-policy-documents", protected(s.handleUploadPolicyDocuments))
	mux.Handle("GET /api/uploaded-files", protected(s.handleUploadedFiles))
	mux.Handle("POST /api/auth/verify", protected(s.handleAuthVerify))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := s.metricsMiddleware(mux)
	handler = requestLogger(log, handler)
	if cfg.CORSOrigins != "" {
		handler = cors.New(cors.Options{
			AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler(handler)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler. Test hook.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
