package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/offline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReplica(t *testing.T) (*offline.Replica, *memory.Queue) {
	t.Helper()
	versions := memory.NewVersionRepository(testutils.FeverVersion(), testutils.ScoredVersion())
	queue := memory.NewQueue()
	return offline.NewReplica(versions, queue, "nurse-a"), queue
}

func run(t *testing.T, replica *offline.Replica, protocolID, input string) (SessionOutcome, string, error) {
	t.Helper()
	var out bytes.Buffer
	res, err := RunSession(context.Background(), replica, protocolID, SessionOptions{
		In:  strings.NewReader(input),
		Out: &out,
	})
	return res, out.String(), err
}

func TestRunSession_Resolves(t *testing.T) {
	replica, queue := newReplica(t)

	res, out, err := run(t, replica, "fever", "yes\nok\n")
	require.NoError(t, err)

	assert.False(t, res.Abandoned)
	assert.Equal(t, domain.StatusResolved, res.Result.Status)
	assert.Equal(t, domain.PriorityHigh, res.Result.FinalPriority)
	assert.Equal(t, 5, res.Result.TotalScore)
	assert.Contains(t, out, "Fever?")
	assert.Contains(t, out, "Check temp")
	assert.Contains(t, out, "Priority High, score 5.")

	items, err := queue.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.PriorityHigh, items[0].FinalPriority)
	assert.Empty(t, replica.Sessions(), "finished sessions are forgotten locally")
}

func TestRunSession_BackAndRetry(t *testing.T) {
	replica, _ := newReplica(t)

	res, out, err := run(t, replica, "fever", ":back\nyes\n:back\nno\n")
	require.NoError(t, err)

	assert.Contains(t, out, domain.ErrNothingToUndo.Error())
	assert.Equal(t, domain.PriorityLow, res.Result.FinalPriority)
	assert.Equal(t, 0, res.Result.TotalScore)
	assert.Equal(t, 1, res.Result.Answered)
}

func TestRunSession_ValidationReprompts(t *testing.T) {
	replica, _ := newReplica(t)

	res, out, err := run(t, replica, "chest", "yes\nhot\n37\ntrue\n")
	require.NoError(t, err)

	assert.Contains(t, out, "validation")
	assert.Equal(t, domain.StatusResolved, res.Result.Status)
	assert.Equal(t, 15, res.Result.TotalScore)
	assert.Contains(t, out, "Refer to physician")
}

func TestRunSession_QuitAbandons(t *testing.T) {
	replica, queue := newReplica(t)

	res, out, err := run(t, replica, "chest", "yes\n\nquit\n")
	require.NoError(t, err)

	assert.True(t, res.Abandoned)
	assert.Equal(t, 1, res.Result.Answered)
	assert.Contains(t, out, "abandoned with 1 answers")

	items, err := queue.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Abandoned)
}

func TestRunSession_ClosedInput(t *testing.T) {
	replica, queue := newReplica(t)

	res, _, err := run(t, replica, "chest", "yes\n")
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, IsInterrupted(err))
	assert.Equal(t, domain.StatusPending, res.Result.Status)

	require.NoError(t, replica.Close(context.Background()))
	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "closing the replica abandons the unfinished session")
}

func TestRunSession_UnknownProtocol(t *testing.T) {
	replica, _ := newReplica(t)

	_, _, err := run(t, replica, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNoActiveVersion)
}
