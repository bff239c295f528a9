package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/caretree/pkg/domain"
)

// Store implements ports.SessionStore on the local filesystem.
// Sessions are JSON files under <base>/sessions; local ID claims are marker files
// under <base>/claims created exclusively, so a claim is taken at most once even
// across processes sharing the directory.
type Store struct {
	BasePath string
}

// NewStore creates a Store rooted at basePath.
// If basePath is empty, it defaults to ".caretree".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = ".caretree"
	}
	return &Store{BasePath: basePath}
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.BasePath, "sessions", id+".json")
}

func (s *Store) claimPath(localID string) string {
	return filepath.Join(s.BasePath, "claims", localID)
}

// Save persists the session to a JSON file atomically.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.Invalid("session", "is required")
	}
	if err := safeName("session.id", session.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := WriteAtomic(s.sessionPath(session.ID), data); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// Load retrieves the session from its JSON file.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := safeName("sessionId", sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	if session.Responses == nil {
		session.Responses = []domain.Response{}
	}
	return &session, nil
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := safeName("sessionId", sessionID); err != nil {
		return err
	}
	err := os.Remove(s.sessionPath(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns the operator's sessions, newest first.
func (s *Store) List(ctx context.Context, operatorID string) ([]*domain.Session, error) {
	entries, err := os.ReadDir(filepath.Join(s.BasePath, "sessions"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*domain.Session{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				continue // deleted concurrently
			}
			return nil, err
		}
		if operatorID == "" || session.OperatorID == operatorID {
			sessions = append(sessions, session)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ClaimLocalID binds a local ID to a session ID by exclusively creating a marker file.
func (s *Store) ClaimLocalID(ctx context.Context, localID, sessionID string) (string, bool, error) {
	if err := safeName("localId", localID); err != nil {
		return "", false, err
	}
	path := s.claimPath(localID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("failed to ensure claims directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			bound, readErr := os.ReadFile(path)
			if readErr != nil {
				return "", false, fmt.Errorf("failed to read claim %s: %w", localID, readErr)
			}
			return strings.TrimSpace(string(bound)), false, nil
		}
		return "", false, fmt.Errorf("failed to claim %s: %w", localID, err)
	}
	defer f.Close()

	if _, err := f.WriteString(sessionID); err != nil {
		_ = os.Remove(path)
		return "", false, fmt.Errorf("failed to write claim %s: %w", localID, err)
	}
	if err := f.Sync(); err != nil {
		_ = os.Remove(path)
		return "", false, fmt.Errorf("failed to fsync claim %s: %w", localID, err)
	}
	return sessionID, true, nil
}

// ReleaseLocalID removes a claim marker.
func (s *Store) ReleaseLocalID(ctx context.Context, localID string) error {
	if err := safeName("localId", localID); err != nil {
		return err
	}
	err := os.Remove(s.claimPath(localID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release claim %s: %w", localID, err)
	}
	return nil
}
