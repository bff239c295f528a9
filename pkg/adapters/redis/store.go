package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "caretree:"

// Store implements ports.SessionStore using Redis.
//
// Layout (relative to the prefix):
//
//	session:<id>        JSON document
//	operator:<op>       ZSET of session IDs scored by creation time (ms)
//	local:<localID>     session ID bound to an offline local ID
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiration for sessions and their local ID claims.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *Store) operatorKey(operatorID string) string {
	return s.prefix + "operator:" + operatorID
}

func (s *Store) allKey() string {
	return s.prefix + "sessions"
}

func (s *Store) localKey(localID string) string {
	return s.prefix + "local:" + localID
}

// Save persists the session and indexes it under its operator.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.Invalid("session.id", "is required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	score := float64(session.CreatedAt.UnixMilli())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(session.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.operatorKey(session.OperatorID), backend.Z{Score: score, Member: session.ID})
	pipe.ZAdd(ctx, s.allKey(), backend.Z{Score: score, Member: session.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves a session.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeSession(val)
}

// Delete removes the session and its index entries.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Load(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return s.client.ZRem(ctx, s.allKey(), sessionID).Err()
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.operatorKey(session.OperatorID), sessionID)
	pipe.ZRem(ctx, s.allKey(), sessionID)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns the operator's sessions newest first. Index entries whose document
// has expired are pruned lazily.
func (s *Store) List(ctx context.Context, operatorID string) ([]*domain.Session, error) {
	index := s.allKey()
	if operatorID != "" {
		index = s.operatorKey(operatorID)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*domain.Session, 0, len(ids))
	if len(ids) == 0 {
		return sessions, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	var expired []any
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		session, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, index, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
		}
	}
	return sessions, nil
}

// ClaimLocalID binds a local ID with SET NX.
func (s *Store) ClaimLocalID(ctx context.Context, localID, sessionID string) (string, bool, error) {
	if localID == "" {
		return "", false, domain.Invalid("localId", "is required")
	}
	key := s.localKey(localID)
	claimed, err := s.client.SetNX(ctx, key, sessionID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis error claiming local id: %w", err)
	}
	if claimed {
		return sessionID, true, nil
	}

	bound, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, backend.Nil) {
		// Released between SETNX and GET; try once more.
		return s.ClaimLocalID(ctx, localID, sessionID)
	}
	if err != nil {
		return "", false, fmt.Errorf("redis error reading local id: %w", err)
	}
	return bound, false, nil
}

// ReleaseLocalID deletes a claim.
func (s *Store) ReleaseLocalID(ctx context.Context, localID string) error {
	return s.client.Del(ctx, s.localKey(localID)).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeSession(data []byte) (*domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.Responses == nil {
		session.Responses = []domain.Response{}
	}
	return &session, nil
}
