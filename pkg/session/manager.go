package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed session lock is held if never released.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager runs triage sessions against persistent storage. Transitions on one
// session are serialized; different sessions proceed in parallel.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store    ports.SessionStore
	versions ports.VersionRepository
	machine  *Machine

	mu    sync.Mutex            // guards locks
	locks map[string]*lockEntry // active per-session locks

	locker     ports.DistributedLocker
	lockTTL    time.Duration
	rejectBusy bool

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithRejectConcurrent makes a transition fail with domain.ErrSessionBusy instead of
// waiting when another transition on the same session is in flight.
func WithRejectConcurrent() Option {
	return func(m *Manager) {
		m.rejectBusy = true
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHooks registers lifecycle hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Merge(hooks)
	}
}

// WithMachine replaces the default state machine.
func WithMachine(machine *Machine) Option {
	return func(m *Manager) {
		m.machine = machine
	}
}

// NewManager creates a Manager over the given stores.
func NewManager(store ports.SessionStore, versions ports.VersionRepository, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		versions: versions,
		machine:  NewMachine(),
		locks:    make(map[string]*lockEntry),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Machine returns the state machine used by the Manager.
func (m *Manager) Machine() *Machine {
	return m.machine
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// StartSession creates and persists a session for an operator on a version.
func (m *Manager) StartSession(ctx context.Context, operatorID, versionID string) (Step, error) {
	if operatorID == "" {
		return Step{}, domain.Invalid("operatorId", "is required")
	}
	if versionID == "" {
		return Step{}, domain.Invalid("versionId", "is required")
	}
	v, err := m.versions.GetVersion(ctx, versionID)
	if err != nil {
		return Step{}, err
	}

	step, err := m.machine.Start(v, operatorID)
	if err != nil {
		return Step{}, err
	}
	step.Session.Synced = true
	if err := m.store.Save(ctx, step.Session); err != nil {
		return Step{}, fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Debug("session started", "session_id", step.Session.ID, "version_id", v.ID, "operator_id", operatorID)
	m.emit(ctx, domain.EventSessionStart, step, step.Session.CurrentNodeID)
	if step.Complete {
		m.emit(ctx, domain.EventResolve, step, step.Session.FinalNodeID)
	}
	return step, nil
}

// SubmitResponse records an answer on a pending session. operatorID, when set, must
// own the session.
func (m *Manager) SubmitResponse(ctx context.Context, operatorID, sessionID, nodeID string, value domain.ResponseValue) (Step, error) {
	if nodeID == "" {
		return Step{}, domain.Invalid("nodeId", "is required")
	}
	var step Step
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, v, err := m.loadOwned(ctx, operatorID, sessionID)
		if err != nil {
			return err
		}
		step, err = m.machine.Respond(s, v, nodeID, value)
		if err != nil {
			return err
		}
		return m.store.Save(ctx, step.Session)
	})
	if err != nil {
		return Step{}, err
	}

	m.emit(ctx, domain.EventResponse, step, nodeID)
	if step.Complete {
		m.logger.Info("session resolved",
			"session_id", sessionID,
			"priority", step.Session.FinalPriority,
			"score", step.Session.TotalScore,
			"dead_end", step.EndedUnexpectedly,
		)
		m.emit(ctx, domain.EventResolve, step, step.Session.FinalNodeID)
	}
	return step, nil
}

// GoBack undoes the last response of a session.
func (m *Manager) GoBack(ctx context.Context, operatorID, sessionID string) (Step, error) {
	var step Step
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, v, err := m.loadOwned(ctx, operatorID, sessionID)
		if err != nil {
			return err
		}
		step, err = m.machine.Back(s, v)
		if err != nil {
			return err
		}
		return m.store.Save(ctx, step.Session)
	})
	if err != nil {
		return Step{}, err
	}
	m.emit(ctx, domain.EventBack, step, step.Session.CurrentNodeID)
	return step, nil
}

// Resume re-presents the current state of a session.
func (m *Manager) Resume(ctx context.Context, operatorID, sessionID string) (Step, error) {
	s, v, err := m.loadOwned(ctx, operatorID, sessionID)
	if err != nil {
		return Step{}, err
	}
	return m.machine.Current(s, v)
}

// GetResult returns the session and its result projection.
func (m *Manager) GetResult(ctx context.Context, operatorID, sessionID string) (*domain.Session, Result, error) {
	s, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, Result{}, err
	}
	if operatorID != "" && s.OperatorID != operatorID {
		return nil, Result{}, domain.ErrSessionNotFound
	}
	return s, m.machine.Result(s), nil
}

// ListSessions returns the operator's sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, operatorID string) ([]*domain.Session, error) {
	if operatorID == "" {
		return nil, domain.Invalid("operatorId", "is required")
	}
	return m.store.List(ctx, operatorID)
}

// Delete removes a session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// WithLock executes fn while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	defer m.release(sessionID)

	if m.rejectBusy {
		if !entry.mu.TryLock() {
			return fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
		}
	} else {
		entry.mu.Lock()
	}
	defer entry.mu.Unlock()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "session:"+sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"error", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must call release(sessionID) once done with the entry.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

func (m *Manager) loadOwned(ctx context.Context, operatorID, sessionID string) (*domain.Session, *domain.ProtocolVersion, error) {
	s, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if operatorID != "" && s.OperatorID != operatorID {
		return nil, nil, domain.ErrSessionNotFound
	}
	v, err := m.versions.GetVersion(ctx, s.VersionID)
	if err != nil {
		if errors.Is(err, domain.ErrVersionNotFound) {
			return nil, nil, fmt.Errorf("session %s references missing version %s: %w", s.ID, s.VersionID, err)
		}
		return nil, nil, err
	}
	return s, v, nil
}

func (m *Manager) emit(ctx context.Context, typ domain.EventType, step Step, nodeID string) {
	s := step.Session
	m.hooks.Emit(ctx, &domain.SessionEvent{
		EventBase: domain.EventBase{Type: typ},
		SessionID: s.ID,
		VersionID: s.VersionID,
		NodeID:    nodeID,
		Score:     s.TotalScore,
		Priority:  s.FinalPriority,
		Implicit:  typ == domain.EventResolve && step.EndedUnexpectedly,
	})
}
