package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustid/pkg/platform/outbox"
	"trustid/pkg/platform/sentinel"
)

// Store keeps outbox entries in memory for tests and single-process runs.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*outbox.Entry
}

func New() *Store {
	return &Store{entries: make(map[uuid.UUID]*outbox.Entry)}
}

// Append stores copies of the entries. A duplicate ID rejects the whole batch.
func (s *Store) Append(_ context.Context, entries ...*outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := s.entries[e.ID]; ok {
			return fmt.Errorf("outbox entry %s: %w", e.ID, sentinel.ErrAlreadyUsed)
		}
		if _, ok := seen[e.ID]; ok {
			return fmt.Errorf("outbox entry %s: %w", e.ID, sentinel.ErrAlreadyUsed)
		}
		seen[e.ID] = struct{}{}
	}
	for _, e := range entries {
		cp := *e
		s.entries[e.ID] = &cp
	}
	return nil
}

func (s *Store) FetchUnprocessed(_ context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]*outbox.Entry, 0)
	for _, e := range s.entries {
		if e.IsPending() {
			cp := *e
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.IsPending() {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	t := processedAt
	e.ProcessedAt = &t
	return nil
}

func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.IsPending() {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
