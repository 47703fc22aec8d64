// Package server exposes explanation, batch and ledger operations over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/service"
)

// Deps are the components the server routes to.
type Deps struct {
	Explainer *service.Explainer
	Scheduler *service.Scheduler
	Ledger    *ledger.Ledger
	Usage     service.UsageStore
	Metrics   *metrics.Collector
	// HoldTimeout is the age at which POST /v1/reconcile refunds holds.
	HoldTimeout time.Duration
	Version     string
	Logger      *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	registry *prometheus.Registry
}

// New creates a server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.HoldTimeout <= 0 {
		deps.HoldTimeout = 5 * time.Minute
	}

	registry := prometheus.NewRegistry()
	if deps.Metrics != nil {
		registry.MustRegister(deps.Metrics)
	}

	return &Server{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		registry: registry,
	}
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /v1/segments", s.handlePutSegments)
	mux.HandleFunc("GET /v1/segments/{id}", s.handleGetSegment)
	mux.HandleFunc("GET /v1/documents/{id}/segments", s.handleListSegments)

	mux.HandleFunc("POST /v1/explain/{id}", s.handleExplain)
	mux.HandleFunc("GET /v1/explain/{id}/ws", s.handleExplainWS)

	mux.HandleFunc("POST /v1/batches", s.handleStartBatch)
	mux.HandleFunc("GET /v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("DELETE /v1/batches/{id}", s.handleCancelBatch)
	mux.HandleFunc("GET /v1/batches/{id}/events", s.handleBatchEvents)

	mux.HandleFunc("GET /v1/accounts/{user}", s.handleBalance)
	mux.HandleFunc("POST /v1/accounts/{user}/credit", s.handleCredit)
	mux.HandleFunc("GET /v1/accounts/{user}/entries", s.handleEntries)
	mux.HandleFunc("POST /v1/reconcile", s.handleReconcile)

	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Version})
	})

	return LoggingMiddleware(s.logger)(mux)
}
