package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/google/uuid"
)

type replicaEntry struct {
	session *domain.Session
	version *domain.ProtocolVersion
}

// Replica runs triage sessions locally. Sessions live in memory while in progress;
// resolved sessions are enqueued immediately and abandoned ones on Abandon.
// A session starts with its local ID equal to its replica session ID; reopening a
// resolved session with Back gives it a fresh local ID.
type Replica struct {
	versions   ports.VersionRepository
	queue      ports.OfflineQueue
	machine    *session.Machine
	operatorID string
	now        func() time.Time
	newLocalID func() string

	hooks  domain.LifecycleHooks
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*replicaEntry
}

// ReplicaOption configures a Replica.
type ReplicaOption func(*Replica)

// WithMachine sets the state machine. Use the server's configuration so both
// contexts share the hop limit.
func WithMachine(m *session.Machine) ReplicaOption {
	return func(r *Replica) {
		r.machine = m
	}
}

// WithReplicaLogger sets the logger.
func WithReplicaLogger(logger *slog.Logger) ReplicaOption {
	return func(r *Replica) {
		r.logger = logger
	}
}

// WithReplicaHooks registers lifecycle hooks; events carry Offline=true.
func WithReplicaHooks(hooks domain.LifecycleHooks) ReplicaOption {
	return func(r *Replica) {
		r.hooks = r.hooks.Merge(hooks)
	}
}

// WithReplicaClock overrides the time source.
func WithReplicaClock(now func() time.Time) ReplicaOption {
	return func(r *Replica) {
		r.now = now
	}
}

// NewReplica creates a replica for one operator.
func NewReplica(versions ports.VersionRepository, queue ports.OfflineQueue, operatorID string, opts ...ReplicaOption) *Replica {
	r := &Replica{
		versions:   versions,
		queue:      queue,
		operatorID: operatorID,
		now:        func() time.Time { return time.Now().UTC() },
		newLocalID: uuid.NewString,
		logger:     logging.NewNop(),
		sessions:   make(map[string]*replicaEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.machine == nil {
		r.machine = session.NewMachine(
			session.WithIDGenerator(uuid.NewString),
			session.WithClock(r.now),
		)
	}
	return r
}

// Start begins a session on the cached version of a protocol.
func (r *Replica) Start(ctx context.Context, protocolID string) (session.Step, error) {
	v, err := r.versions.GetLatestActive(ctx, protocolID)
	if err != nil {
		return session.Step{}, err
	}
	return r.StartVersion(ctx, v)
}

// StartVersion begins a session on a specific version.
func (r *Replica) StartVersion(ctx context.Context, v *domain.ProtocolVersion) (session.Step, error) {
	step, err := r.machine.Start(v, r.operatorID)
	if err != nil {
		return session.Step{}, err
	}
	s := step.Session
	s.LocalID = s.ID
	created := s.CreatedAt
	s.OfflineCreatedAt = &created

	if step.Complete {
		if err := r.resolved(ctx, step, v); err != nil {
			return session.Step{}, err
		}
	}
	r.mu.Lock()
	r.sessions[s.ID] = &replicaEntry{session: s, version: v}
	r.mu.Unlock()

	r.emit(ctx, domain.EventSessionStart, step, s.CurrentNodeID)
	if step.Complete {
		r.emit(ctx, domain.EventResolve, step, s.FinalNodeID)
	}
	return copyStep(step), nil
}

// Respond answers the current node of a local session. When the answer resolves
// the session it is enqueued before Respond returns.
func (r *Replica) Respond(ctx context.Context, localID, nodeID string, value domain.ResponseValue) (session.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return session.Step{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	step, err := r.machine.Respond(entry.session, entry.version, nodeID, value)
	if err != nil {
		return session.Step{}, err
	}
	if step.Complete {
		if err := r.resolved(ctx, step, entry.version); err != nil {
			return session.Step{}, err
		}
	}
	entry.session = step.Session

	r.emit(ctx, domain.EventResponse, step, nodeID)
	if step.Complete {
		r.emit(ctx, domain.EventResolve, step, step.Session.FinalNodeID)
	}
	return copyStep(step), nil
}

// Back undoes the last response of a local session. Reopening a resolved session
// withdraws its queued copy and moves the session to a fresh local ID: a drain may
// already have reconciled the old one, and the server keeps a local ID's first
// history. The corrected session is enqueued once it resolves again.
func (r *Replica) Back(ctx context.Context, localID string) (session.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return session.Step{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	reopened := entry.session.Status() == domain.StatusResolved
	step, err := r.machine.Back(entry.session, entry.version)
	if err != nil {
		return session.Step{}, err
	}
	if reopened {
		previous := entry.session.LocalID
		if err := r.queue.Remove(ctx, previous); err != nil {
			return session.Step{}, fmt.Errorf("failed to withdraw queued session: %w", err)
		}
		step.Session.LocalID = r.newLocalID()
		r.logger.Info("resolved session reopened offline", "session_id", localID, "previous_local_id", previous, "local_id", step.Session.LocalID)
	}
	entry.session = step.Session
	r.emit(ctx, domain.EventBack, step, step.Session.CurrentNodeID)
	return copyStep(step), nil
}

// Current re-presents a local session.
func (r *Replica) Current(localID string) (session.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return session.Step{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	return r.machine.Current(entry.session, entry.version)
}

// Result projects a local session.
func (r *Replica) Result(localID string) (session.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return session.Result{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	return r.machine.Result(entry.session), nil
}

// Abandon enqueues an unfinished session as abandoned and forgets it locally.
// Abandoning a resolved session only forgets it: it is already queued.
func (r *Replica) Abandon(ctx context.Context, localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	if entry.session.Status() == domain.StatusPending {
		item := r.toQueued(entry.session)
		item.Abandoned = true
		if err := r.queue.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("failed to enqueue abandoned session: %w", err)
		}
		r.logger.Info("session abandoned offline", "local_id", localID, "responses", len(item.Responses))
	}
	delete(r.sessions, localID)
	return nil
}

// Finish forgets a resolved session. A pending session cannot be finished.
func (r *Replica) Finish(localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[localID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, localID)
	}
	if entry.session.Status() == domain.StatusPending {
		return fmt.Errorf("%w: session %s is still pending", domain.ErrSessionIncomplete, localID)
	}
	delete(r.sessions, localID)
	return nil
}

// Sessions lists the local sessions still held in memory, newest first.
func (r *Replica) Sessions() []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Close abandons every unfinished session so no work is lost, then closes the queue.
func (r *Replica) Close(ctx context.Context) error {
	for _, s := range r.Sessions() {
		if s.Status() == domain.StatusPending && len(s.Responses) > 0 {
			if err := r.Abandon(ctx, s.ID); err != nil {
				return err
			}
		}
	}
	return r.queue.Close()
}

func (r *Replica) resolved(ctx context.Context, step session.Step, v *domain.ProtocolVersion) error {
	item := r.toQueued(step.Session)
	if err := r.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue resolved session: %w", err)
	}
	r.logger.Info("session resolved offline",
		"local_id", item.LocalID,
		"version_id", v.ID,
		"priority", item.FinalPriority,
		"score", item.TotalScore,
	)
	return nil
}

func (r *Replica) toQueued(s *domain.Session) domain.OfflineSession {
	created := s.CreatedAt
	if s.OfflineCreatedAt != nil {
		created = *s.OfflineCreatedAt
	}
	return domain.OfflineSession{
		LocalID:          s.LocalID,
		OperatorID:       s.OperatorID,
		ProtocolID:       s.ProtocolID,
		VersionID:        s.VersionID,
		Responses:        append([]domain.Response{}, s.Responses...),
		TotalScore:       s.TotalScore,
		FinalPriority:    s.FinalPriority,
		OfflineCreatedAt: created,
		OfflineSavedAt:   r.now(),
	}
}

func (r *Replica) emit(ctx context.Context, typ domain.EventType, step session.Step, nodeID string) {
	s := step.Session
	r.hooks.Emit(ctx, &domain.SessionEvent{
		EventBase: domain.EventBase{Type: typ},
		SessionID: s.ID,
		VersionID: s.VersionID,
		NodeID:    nodeID,
		Score:     s.TotalScore,
		Priority:  s.FinalPriority,
		Implicit:  typ == domain.EventResolve && step.EndedUnexpectedly,
		Offline:   true,
	})
}

// copyStep detaches the returned session from the replica's table.
func copyStep(step session.Step) session.Step {
	step.Session = step.Session.Clone()
	return step
}
