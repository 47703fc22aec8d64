package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordLLMUsage(OpLLMStream, 200*time.Millisecond, 100, 40)
	c.RecordLLMUsage(OpLLMStream, 400*time.Millisecond, 300, 60)
	c.RecordTiming(OpLedger, 5*time.Millisecond)
	c.RecordOutcome(OpLedger, "settled")
	c.RecordOutcome(OpLedger, "settled")
	c.RecordOutcome(OpLedger, "refunded")
	c.StreamStarted()

	snap := c.Snapshot()

	require.NotNil(t, snap.LLMStream)
	assert.Equal(t, int64(2), snap.LLMStream.Count)
	assert.Equal(t, int64(600), snap.LLMStream.TotalTimeMs)
	assert.Equal(t, int64(200), snap.LLMStream.MinTimeMs)
	assert.Equal(t, int64(400), snap.LLMStream.MaxTimeMs)
	require.NotNil(t, snap.LLMStream.TotalInputTokens)
	assert.Equal(t, int64(400), *snap.LLMStream.TotalInputTokens)
	assert.Equal(t, int64(100), *snap.LLMStream.MinInputTokens)
	assert.Equal(t, int64(60), *snap.LLMStream.MaxOutputTokens)

	require.NotNil(t, snap.Ledger)
	assert.Nil(t, snap.Ledger.TotalInputTokens)
	assert.Nil(t, snap.CacheLookup)

	assert.Equal(t, int64(2), snap.Outcomes[OpLedger]["settled"])
	assert.Equal(t, int64(1), snap.Outcomes[OpLedger]["refunded"])
	assert.Equal(t, int64(1), snap.InFlight)

	c.StreamFinished()
	assert.Equal(t, int64(0), c.Snapshot().InFlight)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpLedger, time.Second)
	c.RecordOutcome(OpLedger, "settled")
	c.StreamStarted()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollectorPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMStream, time.Second, 10, 5)
	c.RecordOutcome(OpCacheLookup, "hit")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP lingostream_outcome_total Outcomes per operation (settled, refunded, cache hit, ...).
# TYPE lingostream_outcome_total counter
lingostream_outcome_total{op="cache_lookup",outcome="hit"} 1
# HELP lingostream_tokens_total Tokens reported by the model provider.
# TYPE lingostream_tokens_total counter
lingostream_tokens_total{direction="input",op="llm_stream"} 10
lingostream_tokens_total{direction="output",op="llm_stream"} 5
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"lingostream_outcome_total", "lingostream_tokens_total")
	assert.NoError(t, err)
}
