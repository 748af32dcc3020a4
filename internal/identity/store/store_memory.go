// Package store persists identity records.
//
// Error contract: every store returns sentinel.ErrNotFound for missing
// usernames and sentinel.ErrAlreadyUsed for a taken username, optionally
// wrapped. Services translate them into domain errors.
package store

import (
	"context"
	"fmt"
	"sync"

	"trustid/internal/identity/models"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/sentinel"
)

// InMemoryStore keeps records in creation order.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	order   []string
}

// NewInMemory constructs an empty in-memory identity store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Username]; ok {
		return fmt.Errorf("username %q: %w", rec.Username, sentinel.ErrAlreadyUsed)
	}
	stored := *rec
	s.records[rec.Username] = &stored
	s.order = append(s.order, rec.Username)
	return nil
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[username]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *InMemoryStore) ListByRole(_ context.Context, role id.Role) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, username := range s.order {
		if rec := s.records[username]; rec.Role == role {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Record, 0, len(s.order))
	for _, username := range s.order {
		c := *s.records[username]
		out = append(out, &c)
	}
	return out, nil
}
