// Package cache stores generated explanations keyed by segment and
// invalidated by the segment's text fingerprint.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/models"
)

// ErrCorrupt marks a stored payload that cannot be decoded. Implementations
// drop such entries and report a miss instead of returning it.
var ErrCorrupt = errors.New("cache: corrupt entry")

// Cache maps a segment ID to its latest explanation. A lookup only hits
// when the stored fingerprint equals the requested one.
type Cache interface {
	Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error)
	// Store overwrites any previous entry for segmentID.
	Store(ctx context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error
	Delete(ctx context.Context, segmentID string) error
}

// Entry is the serialized form shared by the durable backends.
type Entry struct {
	Fingerprint string                   `json:"fingerprint"`
	Record      models.ExplanationRecord `json:"record"`
	StoredAt    time.Time                `json:"stored_at"`
}

// instrumented records lookup latency and hit/miss outcomes.
type instrumented struct {
	Cache
	metrics *metrics.Collector
}

// WithMetrics wraps c so that lookups are reported to m.
func WithMetrics(c Cache, m *metrics.Collector) Cache {
	if m == nil {
		return c
	}
	return &instrumented{Cache: c, metrics: m}
}

func (c *instrumented) Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	start := time.Now()
	rec, hit, err := c.Cache.Lookup(ctx, segmentID, fingerprint)
	c.metrics.RecordTiming(metrics.OpCacheLookup, time.Since(start))

	switch {
	case err != nil:
		c.metrics.RecordOutcome(metrics.OpCacheLookup, "error")
	case hit:
		c.metrics.RecordOutcome(metrics.OpCacheLookup, "hit")
	default:
		c.metrics.RecordOutcome(metrics.OpCacheLookup, "miss")
	}
	return rec, hit, err
}
