// Package entry persists audit entries. Stores only append; nothing updates or
// deletes an entry once written.
package entry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"govid/internal/audit/models"
	"govid/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in insertion order.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []models.Entry
	ids     map[string]struct{}
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{ids: make(map[string]struct{})}
}

func (s *InMemoryStore) Append(_ context.Context, e *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.ID.String()
	if _, ok := s.ids[key]; ok {
		return fmt.Errorf("audit entry %s: %w", key, sentinel.ErrConflict)
	}
	s.ids[key] = struct{}{}
	s.entries = append(s.entries, clone(*e))
	return nil
}

// List returns matching entries newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.Filter) ([]*models.Entry, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Entry, 0, min(filter.Limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		if filter.Matches(&s.entries[i]) {
			e := clone(s.entries[i])
			out = append(out, &e)
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(e models.Entry) models.Entry {
	e.AccessedAttributes = slices.Clone(e.AccessedAttributes)
	e.Metadata = maps.Clone(e.Metadata)
	if e.TargetID != nil {
		t := *e.TargetID
		e.TargetID = &t
	}
	return e
}
