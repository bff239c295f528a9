package engine_test

import (
	"testing"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayPath_FeverScenario(t *testing.T) {
	v := testutils.FeverVersion()

	t.Run("Yes then anything resolves High from the terminal label", func(t *testing.T) {
		out, err := engine.ReplayPath(v, []domain.Response{
			testutils.Text("entry", "yes"),
			testutils.Text("feverYes", "anything"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityHigh, out.FinalPriority)
		assert.Equal(t, 5, out.TotalScore)
		assert.Equal(t, "term1", out.FinalNodeID)
		assert.False(t, out.EndedUnexpectedly)
	})

	t.Run("No resolves Low immediately", func(t *testing.T) {
		out, err := engine.ReplayPath(v, []domain.Response{testutils.Text("entry", "no")})
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityLow, out.FinalPriority)
		assert.Equal(t, 0, out.TotalScore)
		assert.Equal(t, "term2", out.FinalNodeID)
	})

	t.Run("Partial history stays Pending", func(t *testing.T) {
		out, err := engine.ReplayPath(v, []domain.Response{testutils.Text("entry", "yes")})
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityPending, out.FinalPriority)
		assert.Equal(t, "feverYes", out.FinalNodeID)
	})

	t.Run("Empty history waits on the entry", func(t *testing.T) {
		out, err := engine.ReplayPath(v, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityPending, out.FinalPriority)
		assert.Equal(t, "entry", out.FinalNodeID)
	})
}

func TestReplayPath_IgnoresClientScores(t *testing.T) {
	v := testutils.FeverVersion()
	tampered := []domain.Response{
		{NodeID: "entry", Value: domain.TextValue("yes"), ScoreApplied: 40},
		{NodeID: "feverYes", Value: domain.TextValue("ok"), ScoreApplied: 40},
	}

	out, err := engine.ReplayPath(v, tampered)
	require.NoError(t, err)
	assert.Equal(t, 5, out.TotalScore)
	require.Len(t, out.Responses, 2)
	assert.Equal(t, 0, out.Responses[0].ScoreApplied)
	assert.Equal(t, 5, out.Responses[1].ScoreApplied)
}

func TestReplayPath_DeadEnd(t *testing.T) {
	v := testutils.ScoredVersion()

	out, err := engine.ReplayPath(v, []domain.Response{
		testutils.Text("q1", "yes"),
		{NodeID: "q2", Value: domain.NumberValue(37)},
		{NodeID: "q3", Value: domain.BoolValue(false)},
	})
	require.NoError(t, err)
	assert.True(t, out.EndedUnexpectedly)
	assert.Equal(t, 15, out.TotalScore)
	assert.Equal(t, domain.PriorityEmergency, out.FinalPriority)
	assert.Equal(t, "q3", out.FinalNodeID)
}

func TestReplayPath_ScoreDecidesFreeTextTerminal(t *testing.T) {
	v := testutils.ScoredVersion()

	out, err := engine.ReplayPath(v, []domain.Response{testutils.Text("q1", "No")})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, out.FinalPriority)
	assert.Equal(t, "done", out.FinalNodeID)
}

func TestReplayPath_CoercesToDeclaredInput(t *testing.T) {
	v := testutils.ScoredVersion()

	out, err := engine.ReplayPath(v, []domain.Response{
		testutils.Text("q1", "yes"),
		testutils.Text("q2", "37.0"),
		testutils.Text("q3", "yes"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.NumberValue(37), out.Responses[1].Value)
	assert.Equal(t, domain.BoolValue(true), out.Responses[2].Value)
	assert.Equal(t, "done", out.FinalNodeID)

	_, err = engine.ReplayPath(v, []domain.Response{
		testutils.Text("q1", "yes"),
		testutils.Text("q2", "hot"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReplayPath_RejectsInconsistentHistory(t *testing.T) {
	v := testutils.FeverVersion()

	tests := []struct {
		name      string
		responses []domain.Response
	}{
		{"Unknown node", []domain.Response{testutils.Text("ghost", "yes")}},
		{"Missing node id", []domain.Response{testutils.Text("", "yes")}},
		{"Skips the entry", []domain.Response{testutils.Text("feverYes", "ok")}},
		{"Blank answer to a question", []domain.Response{testutils.Text("entry", "  ")}},
		{"Answer after terminal", []domain.Response{
			testutils.Text("entry", "no"),
			testutils.Text("term2", "x"),
			testutils.Text("entry", "yes"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ReplayPath(v, tt.responses)
			assert.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestReplayPath_LegacyTerminalRecord(t *testing.T) {
	v := testutils.FeverVersion()

	out, err := engine.ReplayPath(v, []domain.Response{
		testutils.Text("entry", "no"),
		testutils.Text("term2", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, out.FinalPriority)
	assert.Equal(t, "term2", out.FinalNodeID)
}

func TestReplayPath_Errors(t *testing.T) {
	_, err := engine.ReplayPath(&domain.ProtocolVersion{ID: "empty"}, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyProtocol)

	cyclic := &domain.ProtocolVersion{
		ID:          "loop",
		Nodes:       []domain.Node{{ID: "a", Kind: domain.KindQuestion, ScoreValue: 1}},
		BranchRules: []domain.BranchRule{{NodeID: "a", ConditionValue: "*", NextNodeID: "a"}},
	}
	history := make([]domain.Response, 4)
	for i := range history {
		history[i] = testutils.Text("a", "again")
	}

	e := engine.New(engine.WithMaxHops(3))
	_, err = e.Replay(cyclic, history)
	assert.ErrorIs(t, err, domain.ErrHopLimit)

	out, err := e.Replay(cyclic, history[:3])
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityPending, out.FinalPriority)
	assert.Equal(t, 3, out.TotalScore)
}

func TestReplayPath_Deterministic(t *testing.T) {
	v := testutils.ScoredVersion()
	history := []domain.Response{
		testutils.Text("q1", "yes"),
		{NodeID: "q2", Value: domain.NumberValue(40)},
		{NodeID: "q3", Value: domain.BoolValue(true)},
	}

	first, err := engine.ReplayPath(v, history)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := engine.ReplayPath(v, history)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "q1", v.Nodes[1].ID, "replay must not reorder the version")
}
