package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/cache"
	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

const (
	testUser  = "alice"
	testModel = "test-model"
)

// fakeProvider completes every request unless the segment is listed in
// fail or hang.
type fakeProvider struct {
	fail  map[string]error
	hang  map[string]bool
	delay time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu      sync.Mutex
	started []string
	// startedCh, when set, receives each segment id as its stream begins.
	startedCh chan string
}

func (p *fakeProvider) Name() string { return "fake/" + testModel }

func (p *fakeProvider) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	p.mu.Lock()
	p.started = append(p.started, req.SegmentID)
	p.mu.Unlock()
	if p.startedCh != nil {
		p.startedCh <- req.SegmentID
	}

	if err := emit(stream.Event{Type: stream.EventStart}); err != nil {
		return err
	}
	if err, ok := p.fail[req.SegmentID]; ok {
		return err
	}
	if p.hang[req.SegmentID] {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := emit(stream.Event{Type: stream.EventChunk, Content: `{"translation": "Translated ` + req.SegmentID + `"`}); err != nil {
		return err
	}
	return emit(stream.Event{
		Type: stream.EventComplete,
		Record: &models.ExplanationRecord{
			Translation:     "Translated " + req.SegmentID,
			Explanation:     "Explanation of " + req.Text,
			DifficultyLevel: "beginner",
		},
		Usage: &models.Usage{InputTokens: 100, OutputTokens: 200},
	})
}

func testPricing() config.Pricing {
	p := config.DefaultPricing()
	p.PreChargeMultiplier = 1.2
	p.MinPointsCharge = 1
	p.Models = map[string]config.ModelPrice{
		testModel: {BaseCost: 3},
	}
	return p
}

type harness struct {
	explainer *Explainer
	ledger    *ledger.Ledger
	cache     *cache.Memory
	segments  *MemorySegmentStore
	usage     *MemoryUsageStore
	provider  *fakeProvider
}

func newHarness(t *testing.T, p *fakeProvider, balance int64, segs ...models.Segment) *harness {
	t.Helper()
	return newHarnessWithStore(t, p, ledger.NewMemoryStore(), balance, segs...)
}

func newHarnessWithStore(t *testing.T, p *fakeProvider, store ledger.Store, balance int64, segs ...models.Segment) *harness {
	t.Helper()
	c, err := cache.NewMemory(64, time.Hour)
	require.NoError(t, err)

	l := ledger.New(store, testPricing())
	if balance > 0 {
		_, err := l.Credit(context.Background(), testUser, balance)
		require.NoError(t, err)
	}

	h := &harness{
		ledger:   l,
		cache:    c,
		segments: NewMemorySegmentStore(segs...),
		usage:    NewMemoryUsageStore(),
		provider: p,
	}
	h.explainer = NewExplainer(h.segments, c, l, p, h.usage, ExplainerConfig{
		Model:          testModel,
		TargetLanguage: "English",
		StreamTimeout:  2 * time.Second,
	})
	return h
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), testUser)
	require.NoError(t, err)
	return b
}

func segments(ids ...string) []models.Segment {
	out := make([]models.Segment, len(ids))
	for i, id := range ids {
		out[i] = models.Segment{ID: id, DocumentID: "doc", Position: i, Text: "Text of " + id}
	}
	return out
}

var errUpstream = errors.New("upstream returned 502")
