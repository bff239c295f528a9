package offline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/offline"
	"github.com/aretw0/caretree/pkg/reconcile"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReplica(t *testing.T, versions ...*domain.ProtocolVersion) (*offline.Replica, *memory.Queue) {
	t.Helper()
	cache, err := offline.OpenCache(t.TempDir())
	require.NoError(t, err)
	for _, v := range versions {
		require.NoError(t, cache.Put(v))
	}
	q := memory.NewQueue()
	return offline.NewReplica(cache, q, "nurse-a"), q
}

func TestReplica_ResolvedSessionsAreQueued(t *testing.T) {
	r, q := newReplica(t, testutils.FeverVersion())
	ctx := context.Background()

	step, err := r.Start(ctx, "fever")
	require.NoError(t, err)
	id := step.Session.ID
	assert.Equal(t, id, step.Session.LocalID)
	require.NotNil(t, step.Session.OfflineCreatedAt)
	assert.False(t, step.Session.Synced)

	_, err = r.Respond(ctx, id, "entry", domain.TextValue("Yes"))
	require.NoError(t, err)
	n, _ := q.Len(ctx)
	assert.Zero(t, n, "pending sessions are not queued")

	step, err = r.Respond(ctx, id, "feverYes", domain.TextValue("checked"))
	require.NoError(t, err)
	assert.True(t, step.Complete)

	items, err := q.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].LocalID)
	assert.Equal(t, "fever-v1", items[0].VersionID)
	assert.Equal(t, domain.PriorityHigh, items[0].FinalPriority)
	assert.Len(t, items[0].Responses, 2)
	assert.False(t, items[0].Abandoned)

	require.NoError(t, r.Finish(id))
	assert.Empty(t, r.Sessions())
}

func TestReplica_BackReplacesQueuedCopy(t *testing.T) {
	r, q := newReplica(t, testutils.FeverVersion())
	ctx := context.Background()

	step, err := r.Start(ctx, "fever")
	require.NoError(t, err)
	id := step.Session.ID

	_, err = r.Respond(ctx, id, "entry", domain.TextValue("no"))
	require.NoError(t, err)
	_, err = r.Back(ctx, id)
	require.NoError(t, err)
	_, err = r.Respond(ctx, id, "entry", domain.TextValue("yes"))
	require.NoError(t, err)
	step, err = r.Respond(ctx, id, "feverYes", domain.TextValue("ok"))
	require.NoError(t, err)

	items, err := q.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "the withdrawn copy is not sent")
	assert.Equal(t, domain.PriorityHigh, items[0].FinalPriority)
	assert.Equal(t, step.Session.LocalID, items[0].LocalID)
	assert.NotEqual(t, id, items[0].LocalID)
}

func TestReplica_CorrectionAfterSync(t *testing.T) {
	ctx := context.Background()
	versions := memory.NewVersionRepository(testutils.FeverVersion())
	store := memory.NewStore()
	upstream := &serverUpstream{
		versions:   versions,
		reconciler: reconcile.NewService(versions, store),
		operatorID: "nurse-a",
	}
	r, q := newReplica(t, testutils.FeverVersion())
	syncer := offline.NewSyncer(q, upstream)

	step, err := r.Start(ctx, "fever")
	require.NoError(t, err)
	id := step.Session.ID
	_, err = r.Respond(ctx, id, "entry", domain.TextValue("no"))
	require.NoError(t, err)

	res, err := syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)

	_, err = r.Back(ctx, id)
	require.NoError(t, err)
	_, err = r.Respond(ctx, id, "entry", domain.TextValue("yes"))
	require.NoError(t, err)
	step, err = r.Respond(ctx, id, "feverYes", domain.TextValue("ok"))
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, step.Session.FinalPriority)

	res, err = syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Zero(t, res.Duplicates)
	assert.Empty(t, res.Rejected)
	assert.Zero(t, res.Retained)

	sessions, err := store.List(ctx, "nurse-a")
	require.NoError(t, err)
	require.Len(t, sessions, 2, "the correction is reconciled as its own session")
	priorities := []domain.Priority{sessions[0].FinalPriority, sessions[1].FinalPriority}
	assert.ElementsMatch(t, []domain.Priority{domain.PriorityLow, domain.PriorityHigh}, priorities)
	for _, s := range sessions {
		if s.FinalPriority == domain.PriorityHigh {
			assert.Equal(t, step.Session.LocalID, s.LocalID)
			assert.Equal(t, 5, s.TotalScore)
		}
	}
}

func TestReplica_AbandonAndFinish(t *testing.T) {
	r, q := newReplica(t, testutils.ScoredVersion())
	ctx := context.Background()

	step, err := r.Start(ctx, "chest")
	require.NoError(t, err)
	id := step.Session.ID
	_, err = r.Respond(ctx, id, "q1", domain.TextValue("yes"))
	require.NoError(t, err)

	err = r.Finish(id)
	assert.ErrorIs(t, err, domain.ErrSessionIncomplete)

	require.NoError(t, r.Abandon(ctx, id))
	items, err := q.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Abandoned)
	assert.Equal(t, domain.PriorityPending, items[0].FinalPriority)

	_, err = r.Result(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestReplica_CloseAbandonsWork(t *testing.T) {
	cache, err := offline.OpenCache(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cache.Put(testutils.ScoredVersion()))
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := offline.OpenQueue(path)
	require.NoError(t, err)
	ctx := context.Background()

	r := offline.NewReplica(cache, q, "nurse-a")
	step, err := r.Start(ctx, "chest")
	require.NoError(t, err)
	_, err = r.Respond(ctx, step.Session.ID, "q1", domain.TextValue("yes"))
	require.NoError(t, err)
	_, err = r.Start(ctx, "chest") // untouched, nothing to keep
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	reopened, err := offline.OpenQueue(path)
	require.NoError(t, err)
	defer reopened.Close()
	items, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, step.Session.ID, items[0].LocalID)
}

func TestReplica_UnknownProtocol(t *testing.T) {
	r, _ := newReplica(t)
	_, err := r.Start(context.Background(), "fever")
	assert.ErrorIs(t, err, domain.ErrNoActiveVersion)
}

// The same answers must produce the same outcome online and offline.
func TestReplica_MatchesServer(t *testing.T) {
	scripts := []struct {
		name    string
		version *domain.ProtocolVersion
		answers []domain.ResponseValue
	}{
		{"fever yes", testutils.FeverVersion(), []domain.ResponseValue{domain.TextValue("YES"), domain.TextValue("ok")}},
		{"fever no", testutils.FeverVersion(), []domain.ResponseValue{domain.TextValue("no")}},
		{"chest referral", testutils.ScoredVersion(), []domain.ResponseValue{domain.TextValue("yes"), domain.TextValue("37"), domain.TextValue("y")}},
		{"chest dead end", testutils.ScoredVersion(), []domain.ResponseValue{domain.TextValue("yes"), domain.NumberValue(39), domain.BoolValue(false)}},
	}

	for _, tt := range scripts {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mgr := session.NewManager(memory.NewStore(), memory.NewVersionRepository(tt.version))
			replica, _ := newReplica(t, tt.version)

			online, err := mgr.StartSession(ctx, "nurse-a", tt.version.ID)
			require.NoError(t, err)
			offlineStep, err := replica.Start(ctx, tt.version.ProtocolID)
			require.NoError(t, err)

			for _, answer := range tt.answers {
				require.Equal(t, online.Node.ID, offlineStep.Node.ID)
				assert.Equal(t, online.Hints, offlineStep.Hints)

				online, err = mgr.SubmitResponse(ctx, "nurse-a", online.Session.ID, online.Node.ID, answer)
				require.NoError(t, err)
				offlineStep, err = replica.Respond(ctx, offlineStep.Session.ID, offlineStep.Node.ID, answer)
				require.NoError(t, err)
			}

			assert.True(t, online.Complete)
			assert.Equal(t, online.Complete, offlineStep.Complete)
			assert.Equal(t, online.EndedUnexpectedly, offlineStep.EndedUnexpectedly)
			assert.Equal(t, online.Session.FinalPriority, offlineStep.Session.FinalPriority)
			assert.Equal(t, online.Session.TotalScore, offlineStep.Session.TotalScore)
			assert.Equal(t, online.Session.Responses, offlineStep.Session.Responses)
		})
	}
}
