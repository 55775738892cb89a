// Package attributes stores the personal data values consent grants scope.
package attributes

import (
	"context"
	"sync"

	"govid/pkg/domain"
)

// InMemoryStore keeps attribute values per identity.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[domain.IdentityID]map[string]string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{values: make(map[domain.IdentityID]map[string]string)}
}

// Put sets one attribute value, replacing any previous value.
func (s *InMemoryStore) Put(_ context.Context, id domain.IdentityID, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, ok := s.values[id]
	if !ok {
		attrs = make(map[string]string)
		s.values[id] = attrs
	}
	attrs[name] = value
	return nil
}

// Values returns the stored values among names. Names without a value are
// absent from the result.
func (s *InMemoryStore) Values(_ context.Context, id domain.IdentityID, names []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(names))
	attrs := s.values[id]
	for _, n := range names {
		if v, ok := attrs[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}
