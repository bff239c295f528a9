package offline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/offline"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedItem(localID string) domain.OfflineSession {
	return domain.OfflineSession{
		LocalID:          localID,
		OperatorID:       "nurse-a",
		VersionID:        "fever-v1",
		Responses:        []domain.Response{{NodeID: "entry", Value: domain.TextValue("no")}},
		FinalPriority:    domain.PriorityLow,
		OfflineCreatedAt: time.Now().UTC(),
		OfflineSavedAt:   time.Now().UTC(),
	}
}

func openQueue(t *testing.T, path string) *offline.Queue {
	t.Helper()
	q, err := offline.OpenQueue(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_Contract(t *testing.T) {
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.jsonl"))
	ports.RunQueueContract(t, q)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()

	q, err := offline.OpenQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queuedItem("a")))
	require.NoError(t, q.Enqueue(ctx, queuedItem("b")))
	require.NoError(t, q.Enqueue(ctx, queuedItem("c")))
	require.NoError(t, q.Remove(ctx, "b"))
	require.NoError(t, q.Close())

	reopened := openQueue(t, path)
	items, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].LocalID)
	assert.Equal(t, "c", items[1].LocalID)
	assert.Equal(t, domain.TextValue("no"), items[0].Responses[0].Value)
}

func TestQueue_DiscardsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()

	q, err := offline.OpenQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queuedItem("a")))
	require.NoError(t, q.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"put","item":{"localId":"b","respo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := openQueue(t, path)
	items, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].LocalID)

	require.NoError(t, reopened.Enqueue(ctx, queuedItem("c")))
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueue_RejectsMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	content := "not json\n" + `{"op":"put","item":{"localId":"a","versionId":"v","responses":[]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := offline.OpenQueue(path)
	assert.Error(t, err)
}

func TestQueue_CompactsWhenEmptied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()
	q := openQueue(t, path)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, queuedItem(id)))
	}
	require.NoError(t, q.Remove(ctx, "a", "b", "c"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "an empty queue leaves an empty journal")

	require.NoError(t, q.Enqueue(ctx, queuedItem("d")))
	items, err := q.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestQueue_Closed(t *testing.T) {
	q, err := offline.OpenQueue(filepath.Join(t.TempDir(), "queue.jsonl"))
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close(), "closing twice is harmless")

	err = q.Enqueue(context.Background(), queuedItem("a"))
	assert.ErrorIs(t, err, offline.ErrQueueClosed)
	_, err = q.Snapshot(context.Background())
	assert.ErrorIs(t, err, offline.ErrQueueClosed)
}
