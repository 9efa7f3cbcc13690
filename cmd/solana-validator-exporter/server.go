package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

// Server exposes the exporter's HTTP surface: prometheus metrics, the
// JSON block-production table and liveness.
type Server struct {
	aggregator *Aggregator
	window     *BlockWindow
	config     *Config
	logger     *zap.SugaredLogger

	httpServer *http.Server
}

func NewServer(aggregator *Aggregator, window *BlockWindow, collector *SnapshotCollector, config *Config) *Server {
	server := &Server{
		aggregator: aggregator,
		window:     window,
		config:     config,
		logger:     slog.Get(),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/blocks", server.handleBlocks).Methods(http.MethodGet)
	router.HandleFunc("/livez", server.handleLivez).Methods(http.MethodGet)
	router.HandleFunc("/", server.handleRoot).Methods(http.MethodGet)

	server.httpServer = &http.Server{
		Addr:         config.ListenAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return server
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed so a graceful shutdown does not read as a failure.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("Listening on %s", s.config.ListenAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleBlocks rebuilds the block-production window on demand and serves it
// as JSON. Row-level fetch failures live inside the rows; only a missing
// epoch context fails the whole request.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Current(r.Context())
	records, err := s.window.Fetch(r.Context(), snapshot)
	if err != nil {
		s.logger.Warnf("Block window fetch failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":   snapshot.Epoch.AbsoluteSlot,
		"epoch":  snapshot.Epoch.Epoch,
		"blocks": records,
	})
}

// handleLivez reports on the exporter process, not the node: it serves 200
// as long as a snapshot can be produced, even one full of metric errors.
func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	if s.aggregator.Current(r.Context()) == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":      "solana-validator-exporter",
		"version":   buildVersion,
		"identity":  s.config.Identity,
		"vote_key":  s.config.VoteAccount,
		"endpoints": []string{"/metrics", "/blocks", "/livez"},
	}
	if snapshot := s.aggregator.Published(); snapshot != nil {
		info["collected_at"] = snapshot.CollectedAt.UTC().Format(time.RFC3339)
		info["stale"] = snapshot.Stale
		info["errors"] = snapshot.Errors
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Get().Errorf("Failed to encode response: %v", err)
	}
}
