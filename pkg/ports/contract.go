package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractSession(id, operator string, created time.Time) *domain.Session {
	return &domain.Session{
		ID:            id,
		OperatorID:    operator,
		VersionID:     "fever-v1",
		FinalPriority: domain.PriorityPending,
		CurrentNodeID: "entry",
		Responses: []domain.Response{
			{NodeID: "entry", Value: domain.TextValue("yes"), ScoreApplied: 0},
			{NodeID: "feverYes", Value: domain.NumberValue(38.5), ScoreApplied: 5},
		},
		TotalScore: 5,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load", func(t *testing.T) {
		id := prefix + "-save"
		session := contractSession(id, "nurse-a", time.Now().UTC())

		require.NoError(t, store.Save(ctx, session), "Save should not return error")

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, session.ID, loaded.ID)
		assert.Equal(t, session.OperatorID, loaded.OperatorID)
		assert.Equal(t, session.TotalScore, loaded.TotalScore)
		require.Len(t, loaded.Responses, 2)
		assert.Equal(t, domain.NumberValue(38.5), loaded.Responses[1].Value, "tagged values survive persistence")

		// Mutating the loaded copy must not leak into the store.
		loaded.Responses = loaded.Responses[:0]
		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Len(t, again.Responses, 2)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := prefix + "-delete"
		require.NoError(t, store.Save(ctx, contractSession(id, "nurse-a", time.Now())))

		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List by operator newest first", func(t *testing.T) {
		operator := prefix + "-nurse"
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("%s-list-%d", prefix, i)
			require.NoError(t, store.Save(ctx, contractSession(id, operator, base.Add(time.Duration(i)*time.Minute))))
			defer func() { _ = store.Delete(ctx, id) }()
		}
		require.NoError(t, store.Save(ctx, contractSession(prefix+"-other", "someone-else", base)))
		defer func() { _ = store.Delete(ctx, prefix+"-other") }()

		sessions, err := store.List(ctx, operator)
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		assert.Equal(t, prefix+"-list-2", sessions[0].ID)
		assert.Equal(t, prefix+"-list-0", sessions[2].ID)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 4)
	})

	t.Run("ClaimLocalID", func(t *testing.T) {
		local := prefix + "-local"

		bound, claimed, err := store.ClaimLocalID(ctx, local, "session-1")
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, "session-1", bound)

		bound, claimed, err = store.ClaimLocalID(ctx, local, "session-2")
		require.NoError(t, err)
		assert.False(t, claimed, "a local ID is bound once")
		assert.Equal(t, "session-1", bound)

		require.NoError(t, store.ReleaseLocalID(ctx, local))
		bound, claimed, err = store.ClaimLocalID(ctx, local, "session-3")
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, "session-3", bound)
	})
}

// RunVersionRepositoryContract verifies a VersionRepository seeded with the given
// active version and one superseded version of the same protocol.
func RunVersionRepositoryContract(t *testing.T, repo VersionRepository, active, superseded *domain.ProtocolVersion) {
	ctx := context.Background()

	t.Run("GetVersion", func(t *testing.T) {
		v, err := repo.GetVersion(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, active.ID, v.ID)
		assert.Equal(t, len(active.Nodes), len(v.Nodes))
		assert.Equal(t, active.BranchRules, v.BranchRules, "rule order is preserved")

		old, err := repo.GetVersion(ctx, superseded.ID)
		require.NoError(t, err, "superseded versions stay readable")
		assert.False(t, old.Active)
	})

	t.Run("GetVersion NotFound", func(t *testing.T) {
		_, err := repo.GetVersion(ctx, "no-such-version")
		assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	})

	t.Run("GetLatestActive", func(t *testing.T) {
		v, err := repo.GetLatestActive(ctx, active.ProtocolID)
		require.NoError(t, err)
		assert.Equal(t, active.ID, v.ID)

		_, err = repo.GetLatestActive(ctx, "no-such-protocol")
		assert.ErrorIs(t, err, domain.ErrNoActiveVersion)
	})
}

// RunQueueContract verifies an OfflineQueue implementation.
func RunQueueContract(t *testing.T, queue OfflineQueue) {
	ctx := context.Background()
	item := func(id string) domain.OfflineSession {
		return domain.OfflineSession{
			LocalID:          id,
			VersionID:        "fever-v1",
			Responses:        []domain.Response{{NodeID: "entry", Value: domain.TextValue("no")}},
			FinalPriority:    domain.PriorityLow,
			OfflineCreatedAt: time.Now().UTC(),
		}
	}

	t.Run("Enqueue keeps order", func(t *testing.T) {
		for _, id := range []string{"q-1", "q-2", "q-3"} {
			require.NoError(t, queue.Enqueue(ctx, item(id)))
		}
		items, err := queue.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "q-1", items[0].LocalID)
		assert.Equal(t, "q-3", items[2].LocalID)
		assert.Equal(t, domain.TextValue("no"), items[0].Responses[0].Value)
	})

	t.Run("Enqueue replaces same local ID", func(t *testing.T) {
		replaced := item("q-2")
		replaced.Abandoned = true
		require.NoError(t, queue.Enqueue(ctx, replaced))

		n, err := queue.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		items, err := queue.Snapshot(ctx)
		require.NoError(t, err)
		assert.True(t, items[1].Abandoned)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, queue.Remove(ctx, "q-1", "q-3", "unknown"))
		items, err := queue.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "q-2", items[0].LocalID)

		require.NoError(t, queue.Remove(ctx, "q-2"))
		n, err := queue.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Rejects missing local ID", func(t *testing.T) {
		err := queue.Enqueue(ctx, item(""))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
