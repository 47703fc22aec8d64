package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

const maxSSELine = 1 << 20

// SSE consumes an upstream service that already speaks the event protocol:
// one JSON event per "data:" line.
type SSE struct {
	endpoint  string
	apiKey    string
	modelName string
	http      *resty.Client
}

var _ stream.Provider = (*SSE)(nil)

func NewSSE(cfg config.Config) (*SSE, error) {
	if cfg.SSEEndpoint == "" {
		return nil, fmt.Errorf("SSE endpoint required")
	}
	// No client timeout: the stream deadline comes from the request context.
	return &SSE{
		endpoint:  cfg.SSEEndpoint,
		apiKey:    cfg.SSEAPIKey,
		modelName: cfg.Model,
		http:      resty.New(),
	}, nil
}

func (p *SSE) Name() string {
	return config.ProviderSSE + "/" + p.modelName
}

type sseRequest struct {
	SegmentID      string `json:"segment_id"`
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	Model          string `json:"model,omitempty"`
	System         string `json:"system"`
	Prompt         string `json:"prompt"`
}

func (p *SSE) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	system, user := BuildPrompt(req)
	body := sseRequest{
		SegmentID:      req.SegmentID,
		Text:           req.Text,
		TargetLanguage: LanguageName(req.TargetLanguage),
		Model:          p.modelName,
		System:         system,
		Prompt:         user,
	}

	r := p.http.R().SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if p.apiKey != "" {
		r.SetHeader("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := r.Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("sse request: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(raw, 4096))
		return wrapFatalError(fmt.Errorf("sse endpoint: %s; body: %s", resp.Status(), strings.TrimSpace(string(msg))))
	}

	return readSSE(raw, emit)
}

// readSSE decodes "data:" lines into events. Comments, other fields and
// blank separators are skipped; "[DONE]" ends the stream.
func readSSE(r io.Reader, emit func(stream.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("%w: decode sse event: %v", stream.ErrProvider, err)
		}
		if err := emit(ev); err != nil {
			return err
		}
		if ev.Type.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read sse stream: %w", err)
	}
	return nil
}
