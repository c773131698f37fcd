package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mikey/mail-sentinel/internal/ingest"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/mikey/mail-sentinel/internal/remediation"
	"github.com/mikey/mail-sentinel/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mikey/mail-sentinel/internal/core"
)

// Server is the HTTP surface: provider webhooks, the operator API and
// observability endpoints
type Server struct {
	gateway *ingest.Gateway
	worker  *worker.Worker
	engine  *remediation.Engine
	queue   core.WorkQueue
	metrics *metrics.Metrics
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer creates the HTTP server with all routes mounted
func NewServer(
	addr string,
	jwtSecret string,
	gateway *ingest.Gateway,
	w *worker.Worker,
	engine *remediation.Engine,
	queue core.WorkQueue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	s := &Server{
		gateway: gateway,
		worker:  w,
		engine:  engine,
		queue:   queue,
		metrics: m,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	// Webhooks authenticate via provider-level state (client state,
	// subscription secrets), not the operator JWT.
	r.Post("/webhooks/{provider}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth([]byte(jwtSecret), logger))

		r.Post("/worker/run", s.handleWorkerRun)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue/dead-letters", s.handleDeadLetters)

		r.Route("/remediation/{tenant}/{messageID}", func(r chi.Router) {
			r.Post("/release", s.handleRelease)
			r.Post("/delete", s.handleDelete)
			r.Post("/false-positive", s.handleFalsePositive)
		})
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start blocks serving HTTP until the server is shut down
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
