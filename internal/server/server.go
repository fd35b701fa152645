// Package server exposes the orchestration engine over HTTP and WebSocket.
// The WebSocket transport streams per-request orchestration events in order
// and propagates client disconnects as cancellation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/metrics"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/orchestrator"
)

// Orchestrator is the engine the server drives.
type Orchestrator interface {
	Orchestrate(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.OrchestrationResult, error)
}

// StatsSource supplies session counters for the stats endpoint.
type StatsSource interface {
	SessionStats() metrics.SessionStats
}

// Server handles the HTTP endpoints and WebSocket sessions.
type Server struct {
	cfg        config.ServerConfig
	engine     Orchestrator
	events     *bus.Bus
	stats      StatsSource
	log        *logging.Logger
	httpServer *http.Server
}

// SetStatsSource attaches a counters provider for /api/v1/stats.
// Without one the endpoint returns 404.
func (s *Server) SetStatsSource(src StatsSource) {
	s.stats = src
}

// New creates the server.
func New(cfg config.ServerConfig, engine Orchestrator, events *bus.Bus) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		events: events,
		log:    logging.Global().WithComponent("server"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info("listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.SessionStats())
}

// chatPayload is the one-shot HTTP chat body.
type chatPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// handleChat answers a single message synchronously, without event
// streaming. Useful for scripting and health probes of the full path.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.UserID == "" || payload.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}
	if payload.ConversationID == "" {
		payload.ConversationID = uuid.NewString()
	}

	result, err := s.engine.Orchestrate(r.Context(), &orchestrator.ChatRequest{
		RequestID:      uuid.NewString(),
		UserID:         payload.UserID,
		ConversationID: payload.ConversationID,
		Message:        payload.Message,
	})
	if err != nil {
		s.log.Error("chat request failed: %v", err)
		http.Error(w, "orchestration failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
