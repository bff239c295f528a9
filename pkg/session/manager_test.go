package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s SlowStore) Save(ctx context.Context, sess *domain.Session) error {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Save(ctx, sess)
}

func (s SlowStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Load(ctx, id)
}

func newManager(t *testing.T, opts ...session.Option) *session.Manager {
	t.Helper()
	versions := memory.NewVersionRepository(testutils.FeverVersion(), testutils.ScoredVersion())
	return session.NewManager(memory.NewStore(), versions, opts...)
}

func TestManager_StartAndResolve(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "fever-v1")
	require.NoError(t, err)
	id := step.Session.ID
	assert.NotEmpty(t, id)
	assert.True(t, step.Session.Synced)

	step, err = mgr.SubmitResponse(ctx, "op-1", id, "entry", domain.TextValue("YES"))
	require.NoError(t, err)
	step, err = mgr.SubmitResponse(ctx, "op-1", id, "feverYes", domain.TextValue("ok"))
	require.NoError(t, err)
	assert.True(t, step.Complete)

	stored, res, err := mgr.GetResult(ctx, "op-1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, stored.FinalPriority)
	assert.Equal(t, domain.PriorityHigh, res.FinalPriority)
	assert.Equal(t, 5, res.TotalScore)
	assert.Len(t, stored.Responses, 2)
}

func TestManager_Validation(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.StartSession(ctx, "", "fever-v1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = mgr.StartSession(ctx, "op-1", "nope")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	_, err = mgr.SubmitResponse(ctx, "op-1", "missing", "entry", domain.TextValue("yes"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = mgr.ListSessions(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestManager_OwnerOnly(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "fever-v1")
	require.NoError(t, err)

	_, err = mgr.SubmitResponse(ctx, "op-2", step.Session.ID, "entry", domain.TextValue("yes"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = mgr.GetResult(ctx, "op-2", step.Session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_GoBack(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "chest-v2")
	require.NoError(t, err)
	id := step.Session.ID

	_, err = mgr.GoBack(ctx, "op-1", id)
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)

	_, err = mgr.SubmitResponse(ctx, "op-1", id, "q1", domain.TextValue("no"))
	require.NoError(t, err)

	step, err = mgr.GoBack(ctx, "op-1", id)
	require.NoError(t, err)
	assert.Equal(t, "q1", step.Node.ID)

	stored, res, err := mgr.GetResult(ctx, "op-1", id)
	require.NoError(t, err)
	assert.Empty(t, stored.Responses)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.Equal(t, 0, res.TotalScore)
}

func TestManager_ListSessionsNewestFirst(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	first, err := mgr.StartSession(ctx, "op-1", "fever-v1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := mgr.StartSession(ctx, "op-1", "chest-v2")
	require.NoError(t, err)
	_, err = mgr.StartSession(ctx, "op-2", "fever-v1")
	require.NoError(t, err)

	list, err := mgr.ListSessions(ctx, "op-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Session.ID, list[0].ID)
	assert.Equal(t, first.Session.ID, list[1].ID)
}

func TestManager_Locking(t *testing.T) {
	versions := memory.NewVersionRepository(testutils.ScoredVersion())
	mgr := session.NewManager(SlowStore{memory.NewStore()}, versions)
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "chest-v2")
	require.NoError(t, err)
	id := step.Session.ID

	// Two operators' worth of the same answer racing: exactly one must land.
	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.SubmitResponse(ctx, "op-1", id, "q1", domain.TextValue("yes"))
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidation)
			rejected.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), rejected.Load())

	stored, _, err := mgr.GetResult(ctx, "op-1", id)
	require.NoError(t, err)
	assert.Len(t, stored.Responses, 1)
	assert.Equal(t, 6, stored.TotalScore)
}

func TestManager_RejectConcurrent(t *testing.T) {
	mgr := newManager(t, session.WithRejectConcurrent())
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "fever-v1")
	require.NoError(t, err)
	id := step.Session.ID

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = mgr.WithLock(ctx, id, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	_, err = mgr.SubmitResponse(ctx, "op-1", id, "entry", domain.TextValue("yes"))
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	close(done)
}

func TestManager_Hooks(t *testing.T) {
	var mu sync.Mutex
	var events []domain.EventType
	record := func(_ context.Context, e *domain.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	}

	mgr := newManager(t, session.WithHooks(domain.LifecycleHooks{
		OnSessionStart: record,
		OnResponse:     record,
		OnResolve:      record,
		OnBack:         record,
	}))
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "op-1", "fever-v1")
	require.NoError(t, err)
	_, err = mgr.SubmitResponse(ctx, "op-1", step.Session.ID, "entry", domain.TextValue("no"))
	require.NoError(t, err)
	_, err = mgr.GoBack(ctx, "op-1", step.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventSessionStart,
		domain.EventResponse,
		domain.EventResolve,
		domain.EventBack,
	}, events)
}
