package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/lingostream/internal/cache"
	"github.com/raphaelgruber/lingostream/internal/models"
)

var _ cache.Cache = (*Client)(nil)

type cacheRow struct {
	Fingerprint string `json:"fingerprint"`
	Payload     string `json:"payload"`
}

// Lookup reads the explanation_cache row for a segment. Undecodable rows
// are deleted and reported as a miss.
func (c *Client) Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	results, err := query[[]cacheRow](ctx, c, `
		SELECT fingerprint, payload FROM type::record("explanation_cache", $id)
	`, map[string]any{"id": segmentID})
	if err != nil {
		return models.ExplanationRecord{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	row, ok := first(results)
	if !ok || row.Fingerprint != fingerprint {
		return models.ExplanationRecord{}, false, nil
	}

	entry, err := cache.DecodeEntry([]byte(row.Payload))
	if err != nil || entry.Fingerprint != fingerprint {
		c.log.Warn("dropping corrupt cache entry", "segment_id", segmentID, "error", err)
		if derr := c.Delete(ctx, segmentID); derr != nil {
			c.log.Warn("delete corrupt cache entry", "segment_id", segmentID, "error", derr)
		}
		return models.ExplanationRecord{}, false, nil
	}
	return entry.Record, true, nil
}

func (c *Client) Store(ctx context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error {
	payload, err := json.Marshal(cache.Entry{Fingerprint: fingerprint, Record: rec, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = query[any](ctx, c, `
		UPSERT type::record("explanation_cache", $id) CONTENT {
			fingerprint: $fingerprint,
			payload: $payload,
			updated: time::now()
		}
	`, map[string]any{"id": segmentID, "fingerprint": fingerprint, "payload": string(payload)})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, segmentID string) error {
	_, err := query[any](ctx, c, `
		DELETE type::record("explanation_cache", $id)
	`, map[string]any{"id": segmentID})
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}
