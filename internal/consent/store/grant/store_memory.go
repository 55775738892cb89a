// Package grant persists consent grants.
package grant

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"govid/internal/consent/models"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
)

// InMemoryStore keeps grants in a map keyed by ID.
type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[domain.ConsentID]models.Grant
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{grants: make(map[domain.ConsentID]models.Grant)}
}

// Create inserts g. A second active grant for the same owner and requester is
// ErrConflict.
func (s *InMemoryStore) Create(_ context.Context, g *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[g.ID]; ok {
		return fmt.Errorf("consent %s: %w", g.ID, sentinel.ErrConflict)
	}
	if g.Status == models.StatusActive {
		if _, ok := s.activeLocked(g.OwnerID, g.RequesterID); ok {
			return fmt.Errorf("active consent for pair: %w", sentinel.ErrConflict)
		}
	}
	s.grants[g.ID] = clone(*g)
	return nil
}

// FindActive returns the grant stored as active for the pair, even when its
// validity has lapsed; callers derive the effective status.
func (s *InMemoryStore) FindActive(_ context.Context, ownerID, requesterID domain.IdentityID) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.activeLocked(ownerID, requesterID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(g)
	return &out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.ConsentID) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(g)
	return &out, nil
}

// MarkExpired moves an active grant to expired. Marking an expired grant again
// is a no-op; pending, revoked and unknown grants are ErrNotFound.
func (s *InMemoryStore) MarkExpired(_ context.Context, id domain.ConsentID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	switch g.Status {
	case models.StatusExpired:
		return nil
	case models.StatusActive:
		g.Status = models.StatusExpired
		g.UpdatedAt = now
		s.grants[id] = g
		return nil
	default:
		return fmt.Errorf("consent %s is %s: %w", id, g.Status, sentinel.ErrNotFound)
	}
}

func (s *InMemoryStore) activeLocked(ownerID, requesterID domain.IdentityID) (models.Grant, bool) {
	for _, g := range s.grants {
		if g.OwnerID == ownerID && g.RequesterID == requesterID && g.Status == models.StatusActive {
			return g, true
		}
	}
	return models.Grant{}, false
}

func clone(g models.Grant) models.Grant {
	g.AllowedAttributes = slices.Clone(g.AllowedAttributes)
	return g
}
