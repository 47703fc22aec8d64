package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/lingostream/internal/server"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// ExplainStream is Explain over a WebSocket. Cancelling ctx sends a cancel
// message and closes the connection, so the server refunds the hold.
func (c *Client) ExplainStream(ctx context.Context, userID, segmentID string, opts service.ExplainOptions, onUpdate func(stream.Update) error) (*service.Result, error) {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/v1/explain/" + url.PathEscape(segmentID) + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if opts.ForceRegenerate {
		q.Set("force", strconv.FormatBool(true))
	}
	if opts.TargetLanguage != "" {
		q.Set("lang", opts.TargetLanguage)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set(server.UserHeader, userID)
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			if !closed {
				_ = conn.WriteJSON(server.ControlMessage{Type: "cancel"})
			}
			mu.Unlock()
			closeConn()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		var ev server.ExplainEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		switch {
		case ev.Kind == "result" && ev.Result != nil:
			return ev.Result, nil
		case ev.Kind == stream.UpdateError && ev.Reason != nil:
			return nil, &APIError{Status: 200, Reason: *ev.Reason}
		}

		var upd stream.Update
		if err := json.Unmarshal(data, &upd); err != nil {
			return nil, fmt.Errorf("unmarshal update: %w", err)
		}
		if onUpdate != nil {
			if err := onUpdate(upd); err != nil {
				return nil, err
			}
		}
	}
}
