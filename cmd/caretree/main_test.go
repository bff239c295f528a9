package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	version := testutils.WriteJSON(t, dir, "fever.json", testutils.FeverVersion())

	honest := testutils.WriteJSON(t, dir, "honest.json", domain.OfflineSession{
		LocalID:       "local-1",
		VersionID:     "fever-v1",
		Responses:     []domain.Response{testutils.Text("entry", "yes"), testutils.Text("feverYes", "ok")},
		TotalScore:    5,
		FinalPriority: domain.PriorityHigh,
	})
	out, err := execute(t, "replay", version, honest)
	require.NoError(t, err)

	var report replayReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Match)
	assert.Equal(t, "term1", report.Replayed.FinalNodeID)

	tampered := testutils.WriteJSON(t, dir, "tampered.json", domain.OfflineSession{
		LocalID:       "local-2",
		VersionID:     "fever-v1",
		Responses:     []domain.Response{testutils.Text("entry", "no")},
		TotalScore:    40,
		FinalPriority: domain.PriorityEmergency,
	})
	_, err = execute(t, "replay", version, tampered)
	assert.ErrorContains(t, err, "differs")

	broken := testutils.WriteJSON(t, dir, "broken.json", domain.OfflineSession{
		LocalID:   "local-3",
		VersionID: "fever-v1",
		Responses: []domain.Response{testutils.Text("term1", "no")},
	})
	_, err = execute(t, "replay", version, broken)
	assert.ErrorContains(t, err, "history rejected")
}

func TestGraphCommand(t *testing.T) {
	dir := t.TempDir()
	version := testutils.WriteJSON(t, dir, "fever.json", testutils.FeverVersion())

	out, err := execute(t, "graph", version, "--session", "")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "feverYes")

	_, err = execute(t, "graph", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
