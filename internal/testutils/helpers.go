package testutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/dsl"
	"github.com/stretchr/testify/require"
)

// FeverVersion is the reference protocol used across the test suites:
// "yes" leads to a scored action then a "High" terminal, anything else to "Low".
func FeverVersion() *domain.ProtocolVersion {
	return dsl.New("fever", 1).Active().
		Question("entry", "Fever?").When("Yes", "feverYes").Otherwise("term2").
		Action("feverYes", "Check temp").Score(5).Otherwise("term1").
		Terminal("term1", "High").
		Terminal("term2", "Low").
		MustBuild()
}

// ScoredVersion is a protocol whose terminal carries free text, so the score decides.
// The first node is terminal, so q1 is the entry. Answering false on q3 is a dead end.
func ScoredVersion() *domain.ProtocolVersion {
	return dsl.New("chest", 2).Active().
		Terminal("done", "Refer to physician").
		Question("q1", "Chest pain?").Score(6).When("yes", "q2").When("no", "done").Then().
		Question("q2", "Temperature").Score(4).Input(domain.InputNumber).When(">38", "done").Otherwise("q3").
		Question("q3", "Breathless?").Score(5).Input(domain.InputBoolean).When("true", "done").Then().
		MustBuild()
}

// WriteJSON writes v as JSON under dir and returns the path.
func WriteJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()

	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// Text builds a text response record.
func Text(nodeID, value string) domain.Response {
	return domain.Response{NodeID: nodeID, Value: domain.TextValue(value)}
}
