package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

const wsWriteTimeout = 10 * time.Second

// ControlMessage is what a WebSocket client may send mid-stream.
type ControlMessage struct {
	Type string `json:"type"` // "cancel"
}

// handleExplainWS is handleExplain over a WebSocket. Every message is a JSON
// object with a kind field. The client cancels by sending {"type":"cancel"}
// or by closing the connection; either refunds the hold.
func (s *Server) handleExplainWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	// Browsers cannot set headers on a WebSocket handshake.
	user := requestUser(r, q.Get("user"))
	if user == "" {
		badRequest(w, "%s header or user query parameter is required", UserHeader)
		return
	}
	force, _ := strconv.ParseBool(q.Get("force"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			var msg ControlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "cancel" {
				return
			}
		}
	}()

	var mu sync.Mutex
	send := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
		}
	}

	segmentID := r.PathValue("id")
	res, err := s.deps.Explainer.ExplainSegment(ctx, user, segmentID, service.ExplainOptions{
		ForceRegenerate: force,
		TargetLanguage:  q.Get("lang"),
	}, func(u stream.Update) { send(u) })
	if err != nil {
		reason := service.Classify(err)
		send(ExplainEvent{Kind: stream.UpdateError, Reason: &reason})
	} else {
		send(ExplainEvent{Kind: "result", Result: res})
	}

	mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	mu.Unlock()
}
