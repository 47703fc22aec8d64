package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// Tiered puts an in-process LRU in front of a durable backend.
type Tiered struct {
	front  *Memory
	back   Cache
	logger *slog.Logger
}

var _ Cache = (*Tiered)(nil)

func NewTiered(front *Memory, back Cache, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{front: front, back: back, logger: logger}
}

// Lookup serves from memory when possible and back-fills memory on a
// durable hit.
func (t *Tiered) Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	if rec, ok, _ := t.front.Lookup(ctx, segmentID, fingerprint); ok {
		return rec, true, nil
	}

	rec, ok, err := t.back.Lookup(ctx, segmentID, fingerprint)
	if err != nil || !ok {
		return rec, ok, err
	}
	_ = t.front.Store(ctx, segmentID, fingerprint, rec)
	return rec, true, nil
}

// Store writes through to the durable backend first. Memory is only
// updated once the durable write succeeded.
func (t *Tiered) Store(ctx context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error {
	if err := t.back.Store(ctx, segmentID, fingerprint, rec); err != nil {
		return err
	}
	return t.front.Store(ctx, segmentID, fingerprint, rec)
}

func (t *Tiered) Delete(ctx context.Context, segmentID string) error {
	return errors.Join(t.front.Delete(ctx, segmentID), t.back.Delete(ctx, segmentID))
}
