package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleChatWebSocket runs objectives over a websocket: the client sends
// {"objective": "..."} messages and receives agent events until the run
// terminates, then may send the next objective.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	traj := store.NewSessionTrajectory(s.trajectories, id)
	orch := s.orchestrator(sess.Model)

	// Runs execute synchronously in the read loop, so event writes never
	// interleave.
	emit := func(e domain.Event) {
		if err := ws.WriteJSON(e); err != nil {
			slog.Error("WebSocket write error", "error", err)
		}
	}

	for {
		var msg struct {
			Objective string `json:"objective"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			slog.Error("WebSocket read error", "error", err)
			break
		}
		if msg.Objective == "" {
			continue
		}

		mu := s.sessionLock(id)
		mu.Lock()
		_, err := orch.Run(r.Context(), traj, msg.Objective, emit)
		mu.Unlock()
		if err != nil {
			slog.Error("Agent run failed", "session", id, "error", err)
		}
	}
}
