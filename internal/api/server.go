// Package api exposes the operational HTTP surface: health, stats, seed
// injection, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/dispatch"
	"github.com/deepmedical/crawl-engine/internal/frontier"
	"github.com/deepmedical/crawl-engine/internal/metrics"
	"github.com/deepmedical/crawl-engine/internal/proxy"
)

// Server wraps the chi router and http.Server.
type Server struct {
	dispatcher *dispatch.Dispatcher
	frontier   *frontier.Frontier
	pool       *proxy.Pool
	logger     *zap.Logger

	srv *http.Server
}

// New builds the API server on the given port.
func New(port int, dispatcher *dispatch.Dispatcher, front *frontier.Frontier, pool *proxy.Pool, logger *zap.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		frontier:   front,
		pool:       pool,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/history", s.handleHistory)
	r.Post("/seeds", s.handleSeeds)
	r.Delete("/frontier", s.handleClearFrontier)
	r.Handle("/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Dispatcher dispatch.Stats `json:"dispatcher"`
	Frontier   frontier.Stats `json:"frontier"`
	Proxies    proxy.Stats    `json:"proxies"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Dispatcher: s.dispatcher.GetStats(),
		Frontier:   s.frontier.Stats(),
		Proxies:    s.pool.Stats(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url query parameter is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     url,
		"history": s.dispatcher.History(url),
	})
}

type seedRequest struct {
	URLs []struct {
		URL      string            `json:"url"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"urls"`
}

func (s *Server) handleSeeds(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "urls is required"})
		return
	}

	urls := make([]string, len(req.URLs))
	metas := make([]map[string]string, len(req.URLs))
	for i, seed := range req.URLs {
		urls[i] = seed.URL
		metas[i] = seed.Metadata
	}
	tasks := s.frontier.EnqueueBatch(r.Context(), urls, metas)

	s.logger.Info("seeds accepted",
		zap.Int("submitted", len(req.URLs)), zap.Int("enqueued", len(tasks)))
	writeJSON(w, http.StatusAccepted, map[string]int{
		"submitted": len(req.URLs),
		"enqueued":  len(tasks),
	})
}

func (s *Server) handleClearFrontier(w http.ResponseWriter, _ *http.Request) {
	dropped := s.frontier.Size()
	s.frontier.Clear()
	s.logger.Info("frontier cleared", zap.Int("dropped", dropped))
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
