package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustid/pkg/platform/sentinel"
)

// InMemoryStore keeps journal entries in memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *InMemoryStore) Begin(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("journal entry %s: %w", e.ID, sentinel.ErrAlreadyUsed)
	}
	c := *e
	s.entries[e.ID] = &c
	return nil
}

func (s *InMemoryStore) Transition(_ context.Context, entryID uuid.UUID, to State, lastErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("journal entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	if !e.State.Pending() {
		return fmt.Errorf("journal entry %s is %s: %w", entryID, e.State, sentinel.ErrInvalidState)
	}
	e.State = to
	e.LastError = lastErr
	e.UpdatedAt = at
	if !to.Pending() {
		e.PasswordHash = ""
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, entryID uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("journal entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	c := *e
	return &c, nil
}

func (s *InMemoryStore) Pending(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.State.Pending() {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
