package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// SegmentStore reads segments and persists their explanations.
type SegmentStore interface {
	// GetSegment returns models.ErrSegmentNotFound for unknown ids.
	GetSegment(ctx context.Context, id string) (models.Segment, error)
	PutSegments(ctx context.Context, segs []models.Segment) error
	SaveExplanation(ctx context.Context, id string, rec models.ExplanationRecord) error
	ListSegments(ctx context.Context, documentID string) ([]models.Segment, error)
}

// UsageStore persists per-request token usage.
type UsageStore interface {
	RecordTokenUsage(ctx context.Context, u models.TokenUsage) error
	UsageSummary(ctx context.Context, since time.Time) (models.UsageSummary, error)
}

// MemorySegmentStore keeps segments in a map.
type MemorySegmentStore struct {
	mu       sync.RWMutex
	segments map[string]models.Segment
}

var _ SegmentStore = (*MemorySegmentStore)(nil)

func NewMemorySegmentStore(segs ...models.Segment) *MemorySegmentStore {
	s := &MemorySegmentStore{segments: make(map[string]models.Segment)}
	_ = s.PutSegments(context.Background(), segs)
	return s
}

func (s *MemorySegmentStore) GetSegment(_ context.Context, id string) (models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return models.Segment{}, fmt.Errorf("%w: %s", models.ErrSegmentNotFound, id)
	}
	seg.Explanation = seg.Explanation.Clone()
	return seg, nil
}

// PutSegments keeps a stored explanation only when the text is unchanged.
func (s *MemorySegmentStore) PutSegments(_ context.Context, segs []models.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seg := range segs {
		if old, ok := s.segments[seg.ID]; ok && old.Text == seg.Text && seg.Explanation == nil {
			seg.Explanation = old.Explanation
		} else {
			seg.Explanation = seg.Explanation.Clone()
		}
		s.segments[seg.ID] = seg
	}
	return nil
}

func (s *MemorySegmentStore) SaveExplanation(_ context.Context, id string, rec models.ExplanationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSegmentNotFound, id)
	}
	seg.Explanation = rec.Clone()
	s.segments[id] = seg
	return nil
}

func (s *MemorySegmentStore) ListSegments(_ context.Context, documentID string) ([]models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Segment, 0)
	for _, seg := range s.segments {
		if seg.DocumentID == documentID {
			seg.Explanation = seg.Explanation.Clone()
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// MemoryUsageStore keeps usage rows in a slice.
type MemoryUsageStore struct {
	mu   sync.RWMutex
	rows []models.TokenUsage
}

var _ UsageStore = (*MemoryUsageStore)(nil)

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) RecordTokenUsage(_ context.Context, u models.TokenUsage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.rows = append(s.rows, u)
	s.mu.Unlock()
	return nil
}

func (s *MemoryUsageStore) UsageSummary(_ context.Context, since time.Time) (models.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := models.UsageSummary{
		Since:        since,
		ByModel:      map[string]int64{},
		ByUserPoints: map[string]int64{},
	}
	for _, u := range s.rows {
		if u.CreatedAt.Before(since) {
			continue
		}
		sum.Requests++
		sum.TotalTokens += u.TotalTokens
		sum.CostPoints += u.CostPoints
		sum.ByModel[u.Model] += u.TotalTokens
		sum.ByUserPoints[u.UserID] += u.CostPoints
	}
	return sum, nil
}
