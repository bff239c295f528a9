package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/caretree/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	data   map[string]*domain.Session
	claims map[string]string
	mu     sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data:   make(map[string]*domain.Session),
		claims: make(map[string]string),
	}
}

// Save persists a copy of the session, similar to serialization.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.Invalid("session.id", "is required")
	}
	copied := session.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[session.ID] = copied
	return nil
}

// Load retrieves a copy of the session so callers can't mutate the store by pointer.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns the operator's sessions, newest first.
func (s *Store) List(ctx context.Context, operatorID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(s.data))
	for _, session := range s.data {
		if operatorID == "" || session.OperatorID == operatorID {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ClaimLocalID binds a local ID once.
func (s *Store) ClaimLocalID(ctx context.Context, localID, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bound, ok := s.claims[localID]; ok {
		return bound, false, nil
	}
	s.claims[localID] = sessionID
	return sessionID, true, nil
}

// ReleaseLocalID drops a claim.
func (s *Store) ReleaseLocalID(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, localID)
	return nil
}
