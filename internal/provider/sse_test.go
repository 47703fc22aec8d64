package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

func sseServer(t *testing.T, status int, lines ...string) (*httptest.Server, *sseRequest) {
	t.Helper()
	var got sseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if status != http.StatusOK {
			http.Error(w, "invalid api key", status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSSEProvider(t *testing.T) {
	srv, got := sseServer(t, http.StatusOK,
		`: keep-alive`,
		`data: {"type":"start"}`,
		`data: {"type":"chunk","content":"{\"translation\": \"Good morning\""}`,
		`data: {"type":"partial_update","fields":{"explanation":"A greeting."}}`,
		`data: {"type":"complete","record":{"translation":"Good morning","explanation":"A greeting."},"usage":{"input_tokens":9,"output_tokens":4,"total_price":0.0031}}`,
		`data: {"type":"chunk","content":"ignored after complete"}`,
	)

	p, err := NewSSE(config.Config{SSEEndpoint: srv.URL, SSEAPIKey: "secret", Model: "upstream"})
	require.NoError(t, err)

	res, err := stream.NewConsumer().Run(context.Background(), p,
		stream.Request{SegmentID: "s1", Text: "おはよう", TargetLanguage: "en"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Good morning", res.Record.Translation)
	require.NotNil(t, res.Usage.TotalPrice)
	assert.InDelta(t, 0.0031, *res.Usage.TotalPrice, 1e-9)

	assert.Equal(t, "s1", got.SegmentID)
	assert.Equal(t, "English", got.TargetLanguage)
	assert.Contains(t, got.Prompt, "おはよう")
}

func TestSSEProviderHTTPError(t *testing.T) {
	srv, _ := sseServer(t, http.StatusUnauthorized)
	p, err := NewSSE(config.Config{SSEEndpoint: srv.URL, SSEAPIKey: "secret"})
	require.NoError(t, err)

	_, err = stream.NewConsumer().Run(context.Background(), p, stream.Request{Text: "x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

func TestReadSSE(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		types   []stream.EventType
		wantErr bool
	}{
		{
			name:  "done marker",
			body:  "data: {\"type\":\"start\"}\n\ndata: [DONE]\n\ndata: {\"type\":\"chunk\"}\n",
			types: []stream.EventType{stream.EventStart},
		},
		{
			name:  "stops at terminal event",
			body:  "event: message\ndata: {\"type\":\"start\"}\n\ndata:{\"type\":\"error\",\"message\":\"boom\"}\n\ndata: {\"type\":\"chunk\"}\n",
			types: []stream.EventType{stream.EventStart, stream.EventError},
		},
		{
			name:    "malformed json",
			body:    "data: {\"type\":\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []stream.EventType
			err := readSSE(strings.NewReader(tt.body), func(ev stream.Event) error {
				got = append(got, ev.Type)
				return nil
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, stream.ErrProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.types, got)
		})
	}
}

func TestNewSSERequiresEndpoint(t *testing.T) {
	_, err := NewSSE(config.Config{})
	assert.Error(t, err)
}
