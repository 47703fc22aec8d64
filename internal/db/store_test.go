package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/models"
)

func testRecord(translation string) models.ExplanationRecord {
	return models.ExplanationRecord{
		Translation:     translation,
		Explanation:     "explanation",
		DifficultyLevel: models.DifficultyIntermediate,
		Vocabulary:      []models.VocabularyItem{{Word: "猫", Meaning: "cat"}},
		GrammarPoints:   []models.GrammarPoint{},
	}
}

func TestCacheBackend(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "seg-1", "fp-1", testRecord("cat")))

	rec, hit, err := c.Lookup(ctx, "seg-1", "fp-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cat", rec.Translation)
	assert.Equal(t, "猫", rec.Vocabulary[0].Word)

	_, hit, err = c.Lookup(ctx, "seg-1", "fp-2")
	require.NoError(t, err)
	assert.False(t, hit)

	t.Run("corrupt payload is a miss and is removed", func(t *testing.T) {
		_, err := c.Query(ctx, `
			UPSERT type::record("explanation_cache", "seg-bad") CONTENT { fingerprint: "fp", payload: "{oops" }
		`, nil)
		require.NoError(t, err)

		_, hit, err := c.Lookup(ctx, "seg-bad", "fp")
		require.NoError(t, err)
		assert.False(t, hit)

		results, err := c.Query(ctx, `SELECT * FROM type::record("explanation_cache", "seg-bad")`, nil)
		require.NoError(t, err)
		require.NotEmpty(t, *results)
		assert.Empty(t, (*results)[0].Result)
	})

	require.NoError(t, c.Delete(ctx, "seg-1"))
	_, hit, err = c.Lookup(ctx, "seg-1", "fp-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSegmentStore(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()

	segs := []models.Segment{
		{ID: "doc-1:2", DocumentID: "doc-1", Position: 2, Text: "二番目"},
		{ID: "doc-1:1", DocumentID: "doc-1", Position: 1, Text: "一番目"},
	}
	require.NoError(t, c.PutSegments(ctx, segs))

	list, err := c.ListSegments(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "doc-1:1", list[0].ID)

	require.NoError(t, c.SaveExplanation(ctx, "doc-1:1", testRecord("first")))
	got, err := c.GetSegment(ctx, "doc-1:1")
	require.NoError(t, err)
	require.NotNil(t, got.Explanation)
	assert.Equal(t, "first", got.Explanation.Translation)

	t.Run("same text keeps explanation", func(t *testing.T) {
		require.NoError(t, c.PutSegments(ctx, segs[1:]))
		got, err := c.GetSegment(ctx, "doc-1:1")
		require.NoError(t, err)
		assert.NotNil(t, got.Explanation)
	})

	t.Run("changed text clears explanation", func(t *testing.T) {
		edited := segs[1]
		edited.Text = "一番目です"
		require.NoError(t, c.PutSegments(ctx, []models.Segment{edited}))
		got, err := c.GetSegment(ctx, "doc-1:1")
		require.NoError(t, err)
		assert.Nil(t, got.Explanation)
		assert.Equal(t, "一番目です", got.Text)
	})

	_, err = c.GetSegment(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSegmentNotFound)

	err = c.SaveExplanation(ctx, "missing", testRecord("x"))
	assert.ErrorIs(t, err, models.ErrSegmentNotFound)
}

func TestTokenUsage(t *testing.T) {
	c := requireDB(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)

	rows := []models.TokenUsage{
		{Operation: "explain", Model: "gpt-4o-mini", UserID: "alice", SegmentID: "s1", InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostPoints: 3},
		{Operation: "explain", Model: "gpt-4o-mini", UserID: "bob", SegmentID: "s2", InputTokens: 10, OutputTokens: 10, TotalTokens: 20, CostPoints: 3},
		{Operation: "explain", Model: "gpt-4o", UserID: "alice", SegmentID: "s3", InputTokens: 400, OutputTokens: 100, TotalTokens: 500, CostPoints: 12},
	}
	for _, u := range rows {
		require.NoError(t, c.RecordTokenUsage(ctx, u))
	}

	sum, err := c.UsageSummary(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Requests)
	assert.Equal(t, int64(670), sum.TotalTokens)
	assert.Equal(t, int64(18), sum.CostPoints)
	assert.Equal(t, int64(170), sum.ByModel["gpt-4o-mini"])
	assert.Equal(t, int64(15), sum.ByUserPoints["alice"])

	later, err := c.UsageSummary(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.Requests)
}
