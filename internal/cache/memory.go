package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// Memory is a bounded in-process LRU cache.
type Memory struct {
	lru *lru.Cache[string, Entry]
	ttl time.Duration
	now func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an LRU holding at most size entries. A ttl of zero
// keeps entries until they are evicted.
func NewMemory(size int, ttl time.Duration) (*Memory, error) {
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{lru: c, ttl: ttl, now: time.Now}, nil
}

func (m *Memory) Lookup(_ context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	e, ok := m.lru.Get(segmentID)
	if !ok {
		return models.ExplanationRecord{}, false, nil
	}
	if m.ttl > 0 && m.now().Sub(e.StoredAt) > m.ttl {
		m.lru.Remove(segmentID)
		return models.ExplanationRecord{}, false, nil
	}
	if e.Fingerprint != fingerprint {
		return models.ExplanationRecord{}, false, nil
	}
	return *e.Record.Clone(), true, nil
}

func (m *Memory) Store(_ context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error {
	m.lru.Add(segmentID, Entry{Fingerprint: fingerprint, Record: *rec.Clone(), StoredAt: m.now()})
	return nil
}

func (m *Memory) Delete(_ context.Context, segmentID string) error {
	m.lru.Remove(segmentID)
	return nil
}

// Len returns the number of cached segments.
func (m *Memory) Len() int {
	return m.lru.Len()
}
