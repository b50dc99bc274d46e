// Copyright 2025 Certen Protocol
//
// Status HTTP server - exposes health, batch status, and Prometheus
// metrics for operators while the feed runs in continuous mode.

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tee-oracle/neo-price-feed/pkg/feed"
)

// HealthStatus tracks component health for the /health endpoint.
type HealthStatus struct {
	mu        sync.RWMutex
	startTime time.Time

	Status    string // "ok", "degraded", "error"
	RPCNode   string
	Sources   int
	LastCycle string
}

// healthSnapshot is the JSON shape served at /health.
type healthSnapshot struct {
	Status    string `json:"status"`
	RPCNode   string `json:"rpc_node"`
	Sources   int    `json:"enabled_sources"`
	LastCycle string `json:"last_cycle"`
	Uptime    int64  `json:"uptime_seconds"`
}

// NewHealthStatus creates a starting health snapshot.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startTime: time.Now(), Status: "starting", RPCNode: "unknown"}
}

// SetRPC records RPC node reachability.
func (h *HealthStatus) SetRPC(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.RPCNode = status
	h.refresh()
}

// SetSources records the enabled source count.
func (h *HealthStatus) SetSources(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Sources = n
	h.refresh()
}

// RecordCycle notes the outcome of the most recent cycle.
func (h *HealthStatus) RecordCycle(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ok {
		h.LastCycle = "ok"
	} else {
		h.LastCycle = "failed"
	}
	h.refresh()
}

func (h *HealthStatus) refresh() {
	switch {
	case h.RPCNode == "disconnected" || h.Sources == 0:
		h.Status = "error"
	case h.LastCycle == "failed":
		h.Status = "degraded"
	default:
		h.Status = "ok"
	}
}

func (h *HealthStatus) snapshot() healthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return healthSnapshot{
		Status:    h.Status,
		RPCNode:   h.RPCNode,
		Sources:   h.Sources,
		LastCycle: h.LastCycle,
		Uptime:    int64(time.Since(h.startTime).Seconds()),
	}
}

// StatusReader is the read side of the submitter's batch tracker.
type StatusReader interface {
	List() []feed.BatchStatus
}

// Server serves the operator endpoints.
type Server struct {
	httpServer *http.Server
	health     *HealthStatus
	statuses   StatusReader
	logger     *log.Logger
}

// New creates the server.
func New(addr string, health *HealthStatus, statuses StatusReader, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[StatusServer] ", log.LstdFlags)
	}

	s := &Server{health: health, statuses: statuses, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status/batches", s.handleBatches).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      cors.Default().Handler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	go func() {
		s.logger.Printf("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Warning: server stopped: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.snapshot())
}

func (s *Server) handleBatches(w http.ResponseWriter, _ *http.Request) {
	if s.statuses == nil {
		writeJSON(w, http.StatusOK, []feed.BatchStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.statuses.List())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
