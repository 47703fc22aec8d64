package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/cache"
	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/server"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

type stubProvider struct {
	fail error
}

func (stubProvider) Name() string { return "stub" }

func (p stubProvider) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	if err := emit(stream.Event{Type: stream.EventStart}); err != nil {
		return err
	}
	if p.fail != nil {
		return p.fail
	}
	return emit(stream.Event{
		Type:   stream.EventComplete,
		Record: &models.ExplanationRecord{Translation: "T:" + req.Text, Explanation: "E", DifficultyLevel: "advanced"},
		Usage:  &models.Usage{InputTokens: 5, OutputTokens: 5},
	})
}

func newTestClient(t *testing.T, p stream.Provider) *Client {
	t.Helper()
	pricing := config.DefaultPricing()
	pricing.PreChargeMultiplier = 1.2
	pricing.MinPointsCharge = 1
	pricing.Models = map[string]config.ModelPrice{"m": {BaseCost: 3}}

	l := ledger.New(ledger.NewMemoryStore(), pricing)
	mem, err := cache.NewMemory(16, time.Hour)
	require.NoError(t, err)
	explainer := service.NewExplainer(service.NewMemorySegmentStore(), mem, l, p, service.NewMemoryUsageStore(), service.ExplainerConfig{Model: "m"})
	srv := server.New(server.Deps{
		Explainer: explainer,
		Scheduler: service.NewScheduler(explainer, service.NewJobManager(time.Hour), 2, nil),
		Ledger:    l,
		Usage:     service.NewMemoryUsageStore(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func seed(t *testing.T, c *Client, ids ...string) {
	t.Helper()
	ctx := context.Background()
	var segs []models.Segment
	for i, id := range ids {
		segs = append(segs, models.Segment{ID: id, DocumentID: "doc", Position: i, Text: "text " + id})
	}
	n, err := c.PutSegments(ctx, segs)
	require.NoError(t, err)
	require.Equal(t, len(ids), n)
	_, err = c.Credit(ctx, "alice", 50)
	require.NoError(t, err)
}

func TestExplainOverSSE(t *testing.T) {
	c := newTestClient(t, stubProvider{})
	seed(t, c, "s1")
	ctx := context.Background()

	var kinds []stream.UpdateKind
	res, err := c.Explain(ctx, "alice", "s1", service.ExplainOptions{}, func(u stream.Update) error {
		kinds = append(kinds, u.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "T:text s1", res.Record.Translation)
	assert.Contains(t, kinds, stream.UpdateFinal)

	bal, err := c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(47), bal)

	seg, err := c.GetSegment(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, seg.Explanation)
}

func TestExplainOverWebSocket(t *testing.T) {
	c := newTestClient(t, stubProvider{})
	seed(t, c, "s1")

	res, err := c.ExplainStream(context.Background(), "alice", "s1", service.ExplainOptions{ForceRegenerate: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "T:text s1", res.Record.Translation)
	assert.False(t, res.Cached)
}

func TestExplainProviderFailure(t *testing.T) {
	c := newTestClient(t, stubProvider{fail: errors.New("upstream 502")})
	seed(t, c, "s1")
	ctx := context.Background()

	_, err := c.Explain(ctx, "alice", "s1", service.ExplainOptions{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, service.CodeProviderError, apiErr.Reason.Code)
	assert.True(t, apiErr.Reason.Retryable)

	bal, err := c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestAPIErrors(t *testing.T) {
	c := newTestClient(t, stubProvider{})
	ctx := context.Background()

	_, err := c.GetSegment(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, service.CodeNotFound, apiErr.Reason.Code)

	_, err = c.Credit(ctx, "alice", -5)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestBatchLifecycle(t *testing.T) {
	c := newTestClient(t, stubProvider{})
	seed(t, c, "a", "b", "c")
	ctx := context.Background()

	snap, err := c.StartBatch(ctx, server.BatchRequest{UserID: "alice", DocumentID: "doc", Concurrency: 2})
	require.NoError(t, err)

	var progress int
	done, err := c.WatchBatch(ctx, snap.ID, func(ev service.BatchEvent) error {
		if ev.Type == service.EventProgress {
			progress = ev.Completed
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, done.Success)
	assert.Equal(t, 3, progress)

	jobs, err := c.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	got, err := c.GetBatch(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, service.JobStatusCompleted, got.Status)

	entries, err := c.Entries(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	sum, err := c.GetUsageSummary(ctx, "1h")
	require.NoError(t, err)
	assert.NotNil(t, sum)

	rec, err := c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, rec.Refunded)
}
