package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The assistant backend sits behind the user's own gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a client-to-server frame.
type wsInbound struct {
	Type           string `json:"type"` // "message"
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// wsOutbound is a server-to-client frame. Exactly one of Event and Result
// is set; Type discriminates.
type wsOutbound struct {
	Type   string                            `json:"type"` // "event", "result", "error"
	Event  *bus.Event                        `json:"event,omitempty"`
	Result *orchestrator.OrchestrationResult `json:"result,omitempty"`
	Error  string                            `json:"error,omitempty"`
}

// session is one WebSocket connection. Outbound frames go through send so
// a single goroutine owns all writes.
type session struct {
	conn   *websocket.Conn
	send   chan wsOutbound
	userID string

	mu        sync.Mutex
	activeReq string // request ID whose events are forwarded
}

// handleWebSocket runs a chat session. Each inbound message becomes one
// orchestrated turn whose bus events stream back in order, terminated by a
// result or error frame. Closing the socket cancels the in-flight turn.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	sess := &session{
		conn:   conn,
		send:   make(chan wsOutbound, 64),
		userID: userID,
	}

	// The request context dies when the connection is hijacked, so the
	// session carries its own; the read pump cancels it on disconnect.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var subID bus.SubscriptionID
	if s.events != nil {
		subID = s.events.Subscribe("", func(e bus.Event) {
			sess.mu.Lock()
			active := sess.activeReq
			sess.mu.Unlock()
			if e.RequestID == "" || e.RequestID != active {
				return
			}
			select {
			case sess.send <- wsOutbound{Type: "event", Event: &e}:
			default:
				// Client too slow to keep up with events; the result
				// frame still arrives.
			}
		})
		defer s.events.Unsubscribe(subID)
	}

	go sess.writePump(ctx)

	s.log.Info("websocket session opened for user %s", userID)
	defer func() {
		s.log.Info("websocket session closed for user %s", userID)
		conn.Close()
	}()

	// A dedicated read pump keeps the socket observed while a turn is in
	// flight, so a disconnect cancels the turn instead of going unnoticed.
	inboundCh := make(chan wsInbound)
	go func() {
		defer cancel()
		for {
			var msg wsInbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case inboundCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var inbound wsInbound
		select {
		case <-ctx.Done():
			return
		case inbound = <-inboundCh:
		}
		if inbound.Type != "message" || inbound.Content == "" {
			continue
		}

		conversationID := inbound.ConversationID
		if conversationID == "" {
			conversationID = uuid.NewString()
		}
		requestID := uuid.NewString()

		sess.mu.Lock()
		sess.activeReq = requestID
		sess.mu.Unlock()

		result, err := s.engine.Orchestrate(ctx, &orchestrator.ChatRequest{
			RequestID:      requestID,
			UserID:         userID,
			ConversationID: conversationID,
			Message:        inbound.Content,
		})

		sess.mu.Lock()
		sess.activeReq = ""
		sess.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sess.send <- wsOutbound{Type: "error", Error: err.Error()}
			continue
		}
		sess.send <- wsOutbound{Type: "result", Result: result}
	}
}

// writePump owns the socket's write side.
func (sess *session) writePump(ctx context.Context) {
	for {
		select {
		case frame := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sess.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
