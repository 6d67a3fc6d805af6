// Package server serves the REST API for the database agent: session
// management, chat over SSE and websockets, trajectory inspection, and
// status endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rkapoor/dbagent/pkg/agent"
	"github.com/rkapoor/dbagent/pkg/capability"
	"github.com/rkapoor/dbagent/pkg/model"
	"github.com/rkapoor/dbagent/pkg/store"
)

// Server serves the REST API for the agent system.
type Server struct {
	sessions     store.SessionStore
	trajectories store.TrajectoryStore
	provider     model.Provider
	catalog      *capability.Catalog
	invoker      agent.Invoker
	caller       capability.Caller
	defaultModel string
	srv          *http.Server

	// One agent run at a time per session.
	runLocks sync.Map
}

// New creates a new Server.
func New(
	sessions store.SessionStore,
	trajectories store.TrajectoryStore,
	provider model.Provider,
	catalog *capability.Catalog,
	invoker agent.Invoker,
	caller capability.Caller,
	defaultModel string,
) *Server {
	return &Server{
		sessions:     sessions,
		trajectories: trajectories,
		provider:     provider,
		catalog:      catalog,
		invoker:      invoker,
		caller:       caller,
		defaultModel: defaultModel,
	}
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	slog.Info("Starting API server", "addr", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Session routes
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Chat
	mux.HandleFunc("POST /api/sessions/{id}/chat", s.handleChat)
	mux.HandleFunc("/api/sessions/{id}/ws", s.handleChatWebSocket)

	// Trajectory
	mux.HandleFunc("GET /api/sessions/{id}/trajectory", s.handleGetTrajectory)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleResetSession)

	// Status and discovery
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/capabilities", s.handleListCapabilities)
	mux.HandleFunc("GET /api/models", s.handleListModels)

	return s.corsMiddleware(mux)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// orchestrator builds the step loop for one session, honoring its model
// choice.
func (s *Server) orchestrator(modelName string) *agent.Orchestrator {
	if modelName == "" {
		modelName = s.defaultModel
	}
	return agent.New(agent.Config{
		Provider: s.provider,
		Model:    modelName,
		Catalog:  s.catalog,
		Invoker:  s.invoker,
	})
}

func (s *Server) sessionLock(id string) *sync.Mutex {
	mu, _ := s.runLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
