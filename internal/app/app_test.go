package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

type cannedProvider struct{}

func (cannedProvider) Name() string { return "canned" }

func (cannedProvider) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	if err := emit(stream.Event{Type: stream.EventStart}); err != nil {
		return err
	}
	return emit(stream.Event{
		Type:   stream.EventComplete,
		Record: &models.ExplanationRecord{Translation: "ok", Explanation: "ok", DifficultyLevel: "beginner"},
		Usage:  &models.Usage{InputTokens: 1, OutputTokens: 1},
	})
}

func memoryConfig() config.Config {
	return config.Config{
		Storage:           config.BackendMemory,
		CacheBackend:      config.BackendMemory,
		CacheSize:         16,
		Provider:          config.ProviderOllama,
		Model:             "gpt-4o-mini",
		TargetLanguage:    "English",
		StreamTimeout:     5 * time.Second,
		HoldTimeout:       time.Minute,
		ReconcileInterval: time.Minute,
		BatchConcurrency:  2,
		BatchRetention:    time.Minute,
	}
}

func TestNewMemoryBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), nil, "test", WithProvider(cannedProvider{}))
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.Explainer.Segments().PutSegments(ctx, []models.Segment{{ID: "s1", Text: "hola"}}))
	_, err = a.Ledger.Credit(ctx, "alice", 100)
	require.NoError(t, err)

	res, err := a.Explainer.ExplainSegment(ctx, "alice", "s1", service.ExplainOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Record.Translation)
	assert.Positive(t, res.Charged)

	snap := a.Metrics.Snapshot()
	require.NotNil(t, snap.LLMStream)
	assert.Equal(t, int64(1), snap.LLMStream.Count)

	srv := httptest.NewServer(a.Server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, a.WipeData(ctx))
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig()
	cfg.Storage = "postgres"
	_, err := New(ctx, cfg, nil, "test", WithProvider(cannedProvider{}))
	assert.ErrorContains(t, err, "storage backend")

	cfg = memoryConfig()
	cfg.CacheBackend = "memcached"
	_, err = New(ctx, cfg, nil, "test", WithProvider(cannedProvider{}))
	assert.ErrorContains(t, err, "cache backend")
}

func TestNewBuildsConfiguredProvider(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), nil, "test")
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))
}

func TestRunBackgroundStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, memoryConfig(), nil, "test", WithProvider(cannedProvider{}))
	require.NoError(t, err)
	a.RunBackground(ctx)
	cancel()
}
