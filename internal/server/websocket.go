package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/renderlab/renderbox/internal/sandbox"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // auth happens upstream of this service
	},
}

// handleEvents streams status transitions for one sandbox to the editor UI so
// it doesn't have to poll. The current state is sent first, then every
// transition until the instance is destroyed or the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inst, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "sandbox not found", http.StatusNotFound)
		return
	}

	// Subscribe before the initial snapshot so no transition falls between.
	events, cancel := s.registry.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain the read side so we notice the client disconnecting.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !s.wsWrite(conn, map[string]any{
		"sandbox_id":       inst.ID,
		"node_id":          inst.NodeID,
		"status":           inst.Status,
		"last_accessed_at": inst.LastAccessedAt,
	}) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if !s.wsWrite(conn, ev) {
				return
			}
			if ev.Status == sandbox.StatusDestroyed {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("websocket marshal failed", "error", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}
