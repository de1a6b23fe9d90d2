package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/structured"
)

// eventBuffer bounds the messages queued for a slow websocket client.
// Messages beyond it are dropped.
const eventBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventMessage is one websocket frame on /api/events.
type EventMessage struct {
	Type      string       `json:"type"` // "chunk" or "log"
	RequestID string       `json:"request_id,omitempty"`
	Chunk     *model.Chunk `json:"chunk,omitempty"`
	Line      string       `json:"line,omitempty"`
}

// handleEventsWebSocket streams generation chunks, filtered by the optional
// request_id query parameter, and every interpreter log line.
func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	out := make(chan EventMessage, eventBuffer)
	done := make(chan struct{})
	send := func(m EventMessage) {
		select {
		case out <- m:
		case <-done:
		default:
			s.logger.Warn("Dropping websocket event for slow client", "type", m.Type)
		}
	}

	if s.cfg.Events != nil {
		sub := s.cfg.Events.Subscribe(func(e structured.Event) {
			if requestID != "" && e.RequestID != requestID {
				return
			}
			chunk := e.Chunk
			send(EventMessage{Type: "chunk", RequestID: e.RequestID, Chunk: &chunk})
		})
		defer sub.Close()
	}
	if s.cfg.Logs != nil {
		sub := s.cfg.Logs.Subscribe(func(line string) {
			send(EventMessage{Type: "log", Line: line})
		})
		defer sub.Close()
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer Loop
	go func() {
		defer wg.Done()
		defer ws.Close()
		for {
			select {
			case <-done:
				return
			case m := <-out:
				if err := ws.WriteJSON(m); err != nil {
					s.logger.Debug("WebSocket write error", "error", err)
					return
				}
			}
		}
	}()

	// Reader Loop: clients send nothing, but reading notices the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read error", "error", err)
			}
			break
		}
	}

	close(done)
	wg.Wait()
}
