package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/store"
)

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var sess domain.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Model == "" {
		sess.Model = s.defaultModel
	}
	if err := s.sessions.Create(r.Context(), &sess); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var sess domain.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	sess.ID = id
	if err := s.sessions.Update(r.Context(), &sess); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Chat ---

// handleChat runs one objective through the agent loop, streaming events to
// the client as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}

	var req struct {
		Objective string `json:"objective"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Objective == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("objective is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(e domain.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	traj := store.NewSessionTrajectory(s.trajectories, id)
	orch := s.orchestrator(sess.Model)
	if _, err := orch.Run(r.Context(), traj, req.Objective, emit); err != nil {
		// The failure already reached the client as an error event.
		return
	}
}

// --- Trajectory ---

func (s *Server) handleGetTrajectory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	entries, err := s.trajectories.Entries(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []domain.TrajectoryEntry{}
	}
	s.jsonResponse(w, http.StatusOK, entries)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	// Never clear underneath an active run.
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := s.trajectories.Clear(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "Conversation history cleared."})
}

// --- Status and discovery ---

// handleStatus reports the currently selected database as seen by the
// capability server.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.caller.CallTool(r.Context(), "get_current_database", nil)
	if err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, err)
		return
	}
	if result.IsError {
		s.errorResponse(w, http.StatusInternalServerError, errors.New(result.Text()))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"current_database": result.Text()})
}

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.catalog.Capabilities())
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
