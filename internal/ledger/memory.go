package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// MemoryStore is an in-process Store guarded by a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
	entries  map[string]*models.LedgerEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		entries:  make(map[string]*models.LedgerEntry),
	}
}

func (s *MemoryStore) CreateHold(_ context.Context, entry models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[entry.UserID] < entry.Held {
		return ErrInsufficientBalance
	}
	s.balances[entry.UserID] -= entry.Held
	e := entry
	s.entries[entry.ID] = &e
	return nil
}

func (s *MemoryStore) FinalizeEntry(_ context.Context, id string, status models.EntryStatus, settled, balanceDelta int64, at time.Time) (models.LedgerEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return models.LedgerEntry{}, 0, ErrEntryNotFound
	}
	if e.Status != models.EntryHeld {
		return *e, s.balances[e.UserID], ErrAlreadyFinalized
	}

	e.Status = status
	e.Settled = settled
	finalized := at
	e.FinalizedAt = &finalized
	s.balances[e.UserID] += balanceDelta
	return *e, s.balances[e.UserID], nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string, usage models.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.Status != models.EntryHeld {
		return ErrAlreadyFinalized
	}
	u := usage
	e.PendingUsage = &u
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return s.balances[userID], nil
}

func (s *MemoryStore) GetEntry(_ context.Context, id string) (models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return models.LedgerEntry{}, ErrEntryNotFound
	}
	return *e, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListHeldBefore(_ context.Context, cutoff time.Time) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.Status == models.EntryHeld && e.CreatedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Entry IDs are K-sortable, so they break CreatedAt ties.
func sortNewestFirst(entries []models.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}
