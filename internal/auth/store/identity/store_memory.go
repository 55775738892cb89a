// Package identity stores identities and their sessions.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"govid/internal/auth/models"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
)

// InMemoryStore keeps identities and sessions in maps. It backs tests and the
// demo seed.
type InMemoryStore struct {
	mu         sync.RWMutex
	identities map[domain.IdentityID]models.Identity
	byExternal map[string]domain.IdentityID
	sessions   map[string]models.Session
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		identities: make(map[domain.IdentityID]models.Identity),
		byExternal: make(map[string]domain.IdentityID),
		sessions:   make(map[string]models.Session),
	}
}

// Save inserts an identity. External IDs are unique.
func (s *InMemoryStore) Save(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byExternal[identity.ExternalID]; ok && existing != identity.ID {
		return fmt.Errorf("external id %s: %w", identity.ExternalID, sentinel.ErrConflict)
	}
	s.identities[identity.ID] = *identity
	s.byExternal[identity.ExternalID] = identity.ID
	return nil
}

// SaveSession stores a session for an existing identity.
func (s *InMemoryStore) SaveSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[session.IdentityID]; !ok {
		return fmt.Errorf("session identity %s: %w", session.IdentityID, sentinel.ErrNotFound)
	}
	s.sessions[session.Token] = *session
	return nil
}

// FindBySessionToken returns the identity owning a session that is still live
// at now. Unknown and expired tokens are both ErrNotFound.
func (s *InMemoryStore) FindBySessionToken(_ context.Context, token string, now time.Time) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok || !session.IsValidAt(now) {
		return nil, sentinel.ErrNotFound
	}
	identity, ok := s.identities[session.IdentityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &identity, nil
}

func (s *InMemoryStore) FindByExternalID(_ context.Context, externalID string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	identity := s.identities[id]
	return &identity, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &identity, nil
}
