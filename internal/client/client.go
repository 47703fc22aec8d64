// Package client provides an HTTP client for the lingostream server.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/server"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

const maxEventLine = 1 << 20

// Client talks to a lingostream server.
type Client struct {
	endpoint string
	http     *resty.Client
	// stream has no overall timeout; streams end with their context.
	stream *resty.Client
}

// New creates a new client.
// If endpoint is empty, uses LINGOSTREAM_SERVER_URL or defaults to localhost:8484.
// The request timeout can be set via LINGOSTREAM_CLIENT_TIMEOUT (default 30s).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("LINGOSTREAM_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}
	endpoint = strings.TrimRight(endpoint, "/")

	timeout := 30 * time.Second
	if t := os.Getenv("LINGOSTREAM_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: endpoint,
		http:     resty.New().SetBaseURL(endpoint).SetTimeout(timeout),
		stream:   resty.New().SetBaseURL(endpoint),
	}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Reason service.Reason
}

func (e *APIError) Error() string {
	if e.Reason.Code == "" {
		return fmt.Sprintf("server error: %d", e.Status)
	}
	return fmt.Sprintf("server error: %d %s: %s", e.Status, e.Reason.Code, e.Reason.Message)
}

// do executes a JSON request and decodes the result into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doAs(ctx, "", method, path, body, out)
}

// doAs is do on behalf of userID, sent in the user header.
func (c *Client) doAs(ctx context.Context, userID, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetError(&server.ErrorResponse{})
	if userID != "" {
		req.SetHeader(server.UserHeader, userID)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		if e, ok := resp.Error().(*server.ErrorResponse); ok && e != nil {
			apiErr.Reason = e.Error
		}
		return apiErr
	}
	return nil
}

// =============================================================================
// Segments
// =============================================================================

// PutSegments upserts segments and returns how many were stored.
func (c *Client) PutSegments(ctx context.Context, segs []models.Segment) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, resty.MethodPut, "/v1/segments", server.PutSegmentsRequest{Segments: segs}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) GetSegment(ctx context.Context, id string) (*models.Segment, error) {
	var seg models.Segment
	if err := c.do(ctx, resty.MethodGet, "/v1/segments/"+url.PathEscape(id), nil, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}

func (c *Client) ListSegments(ctx context.Context, documentID string) ([]models.Segment, error) {
	var segs []models.Segment
	if err := c.do(ctx, resty.MethodGet, "/v1/documents/"+url.PathEscape(documentID)+"/segments", nil, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// =============================================================================
// Explanations
// =============================================================================

// Explain streams one explanation over SSE. onUpdate sees partial, warning
// and final updates; returning an error from it aborts the stream, which the
// server treats as a cancellation and refunds.
func (c *Client) Explain(ctx context.Context, userID, segmentID string, opts service.ExplainOptions, onUpdate func(stream.Update) error) (*service.Result, error) {
	body := server.ExplainRequest{
		ForceRegenerate: opts.ForceRegenerate,
		TargetLanguage:  opts.TargetLanguage,
	}
	raw, err := c.openStream(ctx, userID, resty.MethodPost, "/v1/explain/"+url.PathEscape(segmentID), body)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	var result *service.Result
	err = readEvents(raw, func(name string, data []byte) (bool, error) {
		switch name {
		case "result", string(stream.UpdateError):
			var ev server.ExplainEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, fmt.Errorf("decode %s event: %w", name, err)
			}
			switch {
			case ev.Reason != nil:
				return true, &APIError{Status: 200, Reason: *ev.Reason}
			case ev.Result != nil:
				result = ev.Result
				return true, nil
			}
			// A consumer error update precedes the classified failure.
			fallthrough
		default:
			var u stream.Update
			if err := json.Unmarshal(data, &u); err != nil {
				return false, fmt.Errorf("decode update: %w", err)
			}
			if onUpdate != nil {
				return false, onUpdate(u)
			}
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("stream ended without a result")
	}
	return result, nil
}

// =============================================================================
// Batches
// =============================================================================

// StartBatch starts a batch for req.UserID, which travels in the user header.
func (c *Client) StartBatch(ctx context.Context, req server.BatchRequest) (*service.BatchSnapshot, error) {
	var snap service.BatchSnapshot
	userID := req.UserID
	req.UserID = ""
	if err := c.doAs(ctx, userID, resty.MethodPost, "/v1/batches", req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) ListBatches(ctx context.Context) ([]service.BatchSnapshot, error) {
	var out []service.BatchSnapshot
	if err := c.do(ctx, resty.MethodGet, "/v1/batches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBatch(ctx context.Context, id string) (*service.BatchSnapshot, error) {
	var snap service.BatchSnapshot
	if err := c.do(ctx, resty.MethodGet, "/v1/batches/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CancelBatch cancels a job. Cancelling a finished job is a no-op.
func (c *Client) CancelBatch(ctx context.Context, id string) (*service.BatchSnapshot, error) {
	var snap service.BatchSnapshot
	if err := c.do(ctx, resty.MethodDelete, "/v1/batches/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WatchBatch delivers job events to onEvent until the done event.
func (c *Client) WatchBatch(ctx context.Context, id string, onEvent func(service.BatchEvent) error) (*service.BatchEvent, error) {
	raw, err := c.openStream(ctx, "", resty.MethodGet, "/v1/batches/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	var done *service.BatchEvent
	err = readEvents(raw, func(_ string, data []byte) (bool, error) {
		var ev service.BatchEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, fmt.Errorf("decode batch event: %w", err)
		}
		if onEvent != nil {
			if err := onEvent(ev); err != nil {
				return false, err
			}
		}
		if ev.Type == service.EventDone {
			done = &ev
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if done == nil {
		return nil, fmt.Errorf("event stream ended before the job finished")
	}
	return done, nil
}

// =============================================================================
// Accounts
// =============================================================================

func (c *Client) Balance(ctx context.Context, userID string) (int64, error) {
	var out server.BalanceResponse
	if err := c.do(ctx, resty.MethodGet, "/v1/accounts/"+url.PathEscape(userID), nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Credit tops up an account and returns the new balance.
func (c *Client) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	var out server.BalanceResponse
	if err := c.do(ctx, resty.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/credit", server.CreditRequest{Amount: amount}, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	path := "/v1/accounts/" + url.PathEscape(userID) + "/entries"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.LedgerEntry
	if err := c.do(ctx, resty.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Reconcile(ctx context.Context) (*ledger.ReconcileResult, error) {
	var out ledger.ReconcileResult
	if err := c.do(ctx, resty.MethodPost, "/v1/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Usage & stats
// =============================================================================

// GetUsageSummary returns usage since a duration ("24h") or RFC 3339 time.
func (c *Client) GetUsageSummary(ctx context.Context, since string) (*models.UsageSummary, error) {
	path := "/v1/usage"
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	var out models.UsageSummary
	if err := c.do(ctx, resty.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetServerStats(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.do(ctx, resty.MethodGet, "/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Streaming helpers
// =============================================================================

func (c *Client) openStream(ctx context.Context, userID, method, path string, body any) (io.ReadCloser, error) {
	req := c.stream.R().SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream")
	if userID != "" {
		req.SetHeader(server.UserHeader, userID)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	raw := resp.RawBody()
	if resp.IsError() {
		defer raw.Close()
		apiErr := &APIError{Status: resp.StatusCode()}
		var e server.ErrorResponse
		if b, _ := io.ReadAll(io.LimitReader(raw, 64*1024)); json.Unmarshal(b, &e) == nil {
			apiErr.Reason = e.Error
		}
		return nil, apiErr
	}
	return raw, nil
}

// readEvents parses "event:"/"data:" frames and hands each to fn until fn
// reports it is finished.
func readEvents(r io.Reader, fn func(name string, data []byte) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	var name string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(v)
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			if line == "" {
				name = ""
			}
			continue
		}
		finished, err := fn(name, []byte(strings.TrimSpace(data)))
		if err != nil || finished {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
