package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/models"
)

func sampleRecord(translation string) models.ExplanationRecord {
	return models.ExplanationRecord{
		Translation:     translation,
		Explanation:     "A simple statement about the weather.",
		DifficultyLevel: models.DifficultyBeginner,
		Vocabulary: []models.VocabularyItem{
			{Word: "晴れ", Meaning: "sunny", Reading: models.Ptr("はれ")},
		},
		GrammarPoints: []models.GrammarPoint{},
	}
}

func TestMemoryLookup(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(8, 0)
	require.NoError(t, err)

	_, hit, err := c.Lookup(ctx, "seg-1", "fp-1")
	require.NoError(t, err)
	assert.False(t, hit, "empty cache")

	require.NoError(t, c.Store(ctx, "seg-1", "fp-1", sampleRecord("It is sunny.")))

	rec, hit, err := c.Lookup(ctx, "seg-1", "fp-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "It is sunny.", rec.Translation)

	_, hit, _ = c.Lookup(ctx, "seg-1", "fp-2")
	assert.False(t, hit, "fingerprint mismatch is a miss")

	require.NoError(t, c.Store(ctx, "seg-1", "fp-2", sampleRecord("It was sunny.")))
	_, hit, _ = c.Lookup(ctx, "seg-1", "fp-1")
	assert.False(t, hit, "store overwrites the old fingerprint")

	require.NoError(t, c.Delete(ctx, "seg-1"))
	_, hit, _ = c.Lookup(ctx, "seg-1", "fp-2")
	assert.False(t, hit)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(8, 0)
	require.NoError(t, err)

	rec := sampleRecord("It is sunny.")
	require.NoError(t, c.Store(ctx, "seg-1", "fp", rec))
	*rec.Vocabulary[0].Reading = "changed"

	got, hit, _ := c.Lookup(ctx, "seg-1", "fp")
	require.True(t, hit)
	assert.Equal(t, "はれ", *got.Vocabulary[0].Reading)

	got.Vocabulary[0].Word = "mutated"
	again, _, _ := c.Lookup(ctx, "seg-1", "fp")
	assert.Equal(t, "晴れ", again.Vocabulary[0].Word)
}

func TestMemoryEvictsAndExpires(t *testing.T) {
	ctx := context.Background()

	c, err := NewMemory(2, 0)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Store(ctx, id, "fp", sampleRecord(id)))
	}
	assert.Equal(t, 2, c.Len())
	_, hit, _ := c.Lookup(ctx, "a", "fp")
	assert.False(t, hit, "oldest entry evicted")

	now := time.Now()
	exp, err := NewMemory(4, time.Minute)
	require.NoError(t, err)
	exp.now = func() time.Time { return now }
	require.NoError(t, exp.Store(ctx, "a", "fp", sampleRecord("a")))

	now = now.Add(2 * time.Minute)
	_, hit, _ = exp.Lookup(ctx, "a", "fp")
	assert.False(t, hit, "expired entry")
	assert.Equal(t, 0, exp.Len())
}

func TestNewMemoryRejectsBadSize(t *testing.T) {
	_, err := NewMemory(0, 0)
	assert.Error(t, err)
}

// failingCache is a durable backend that can be switched to fail.
type failingCache struct {
	*Memory
	fail    bool
	lookups int
}

func (f *failingCache) Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	f.lookups++
	if f.fail {
		return models.ExplanationRecord{}, false, errors.New("backend down")
	}
	return f.Memory.Lookup(ctx, segmentID, fingerprint)
}

func (f *failingCache) Store(ctx context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error {
	if f.fail {
		return errors.New("backend down")
	}
	return f.Memory.Store(ctx, segmentID, fingerprint, rec)
}

func TestTiered(t *testing.T) {
	ctx := context.Background()
	front, err := NewMemory(8, 0)
	require.NoError(t, err)
	backMem, err := NewMemory(8, 0)
	require.NoError(t, err)
	back := &failingCache{Memory: backMem}
	c := NewTiered(front, back, nil)

	t.Run("durable hit back-fills memory", func(t *testing.T) {
		require.NoError(t, back.Store(ctx, "seg-1", "fp", sampleRecord("one")))

		rec, hit, err := c.Lookup(ctx, "seg-1", "fp")
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "one", rec.Translation)
		assert.Equal(t, 1, front.Len())

		back.lookups = 0
		_, hit, _ = c.Lookup(ctx, "seg-1", "fp")
		assert.True(t, hit)
		assert.Zero(t, back.lookups, "served from memory")
	})

	t.Run("failed durable write leaves memory untouched", func(t *testing.T) {
		back.fail = true
		defer func() { back.fail = false }()

		err := c.Store(ctx, "seg-2", "fp", sampleRecord("two"))
		assert.Error(t, err)
		_, hit, _ := front.Lookup(ctx, "seg-2", "fp")
		assert.False(t, hit)
	})

	t.Run("backend errors surface on miss", func(t *testing.T) {
		back.fail = true
		defer func() { back.fail = false }()

		_, _, err := c.Lookup(ctx, "seg-3", "fp")
		assert.Error(t, err)
	})

	t.Run("delete removes both tiers", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "seg-1"))
		_, hit, _ := c.Lookup(ctx, "seg-1", "fp")
		assert.False(t, hit)
	})
}

func TestWithMetrics(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemory(8, 0)
	require.NoError(t, err)
	mc := metrics.NewCollector()
	c := WithMetrics(mem, mc)

	require.NoError(t, c.Store(ctx, "seg-1", "fp", sampleRecord("one")))
	_, _, _ = c.Lookup(ctx, "seg-1", "fp")
	_, _, _ = c.Lookup(ctx, "seg-2", "fp")

	snap := mc.Snapshot()
	require.NotNil(t, snap.CacheLookup)
	assert.Equal(t, int64(2), snap.CacheLookup.Count)
	assert.Equal(t, int64(1), snap.Outcomes["cache_lookup"]["hit"])
	assert.Equal(t, int64(1), snap.Outcomes["cache_lookup"]["miss"])

	assert.Same(t, mem, WithMetrics(mem, nil))
}

func TestDecodeEntry(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		corrupt bool
	}{
		{"valid", `{"fingerprint":"fp","record":{"translation":"t","explanation":"e"}}`, false},
		{"not json", `{"fingerprint":`, true},
		{"missing fingerprint", `{"record":{"translation":"t","explanation":"e"}}`, true},
		{"incomplete record", `{"fingerprint":"fp","record":{"translation":"t"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := DecodeEntry([]byte(tt.raw))
			if tt.corrupt {
				assert.ErrorIs(t, err, ErrCorrupt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "fp", e.Fingerprint)
			assert.NotNil(t, e.Record.Vocabulary)
		})
	}
}
