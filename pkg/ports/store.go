package ports

import (
	"context"

	"github.com/aretw0/caretree/pkg/domain"
)

// SessionStore defines the interface for persisting triage sessions.
type SessionStore interface {
	// Save persists the session under session.ID.
	Save(ctx context.Context, session *domain.Session) error

	// Load retrieves a session.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the sessions of an operator, newest first. An empty operatorID lists all.
	List(ctx context.Context, operatorID string) ([]*domain.Session, error)

	// ClaimLocalID binds a client-generated local ID to a session ID exactly once.
	// When the local ID is already bound it returns the bound session ID and claimed=false.
	ClaimLocalID(ctx context.Context, localID, sessionID string) (boundID string, claimed bool, err error)

	// ReleaseLocalID drops a claim whose session could not be persisted.
	ReleaseLocalID(ctx context.Context, localID string) error
}
