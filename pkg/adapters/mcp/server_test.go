package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/reconcile"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	versions := memory.NewVersionRepository(testutils.FeverVersion(), testutils.ScoredVersion())
	return NewServer(session.NewManager(store, versions), reconcile.NewService(versions, store), versions), store
}

// rpc sends one JSON-RPC message and returns the decoded reply.
func rpc(t *testing.T, s *Server, id int, method string, params any) map[string]any {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	reply := s.MCPServer().HandleMessage(context.Background(), raw)
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func initialize(t *testing.T, s *Server) {
	t.Helper()
	rpc(t, s, 0, "initialize", map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
		"capabilities":    map[string]any{},
	})
}

func TestServer_ListsTools(t *testing.T) {
	s, _ := newServer(t)
	initialize(t, s)

	reply := rpc(t, s, 1, "tools/list", map[string]any{})
	result, ok := reply["result"].(map[string]any)
	require.True(t, ok, "unexpected reply: %v", reply)

	var names []string
	for _, tool := range result["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"start_session", "submit_response", "go_back", "get_result", "bulk_reconcile"}, names)
}

func TestServer_CallTool(t *testing.T) {
	s, _ := newServer(t)
	initialize(t, s)

	reply := rpc(t, s, 1, "tools/call", map[string]any{
		"name":      "start_session",
		"arguments": map[string]any{"operator_id": "nurse-a", "version_id": "fever-v1"},
	})
	result := reply["result"].(map[string]any)
	assert.NotEqual(t, true, result["isError"])
	structured := result["structuredContent"].(map[string]any)
	assert.NotEmpty(t, structured["session_id"])
	assert.Equal(t, "pending", structured["status"])
	assert.Equal(t, "entry", structured["next_node"].(map[string]any)["node_id"])

	reply = rpc(t, s, 2, "tools/call", map[string]any{
		"name":      "start_session",
		"arguments": map[string]any{"operator_id": "nurse-a", "version_id": "missing"},
	})
	result = reply["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	text := result["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, string(domain.KindNotFound))
}

func TestServer_TriageTools(t *testing.T) {
	s, _ := newServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	step, err := s.handleStart(ctx, req, startArgs{OperatorID: "nurse-a", VersionID: "chest-v2"})
	require.NoError(t, err)
	require.NotNil(t, step.NextNode)
	assert.Equal(t, "q1", step.NextNode.ID)
	assert.Equal(t, "question", step.NextNode.Kind)
	id := step.SessionID

	step, err = s.handleRespond(ctx, req, respondArgs{OperatorID: "nurse-a", SessionID: id, NodeID: "q1", Value: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "q2", step.NextNode.ID)
	assert.Equal(t, "number", step.NextNode.Input)

	step, err = s.handleRespond(ctx, req, respondArgs{OperatorID: "nurse-a", SessionID: id, NodeID: "q2", Value: "37"})
	require.NoError(t, err)
	assert.Equal(t, "q3", step.NextNode.ID)

	step, err = s.handleBack(ctx, req, sessionArgs{OperatorID: "nurse-a", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "q2", step.NextNode.ID)
	assert.Equal(t, 6, step.Score)

	_, err = s.handleRespond(ctx, req, respondArgs{OperatorID: "nurse-a", SessionID: id, NodeID: "q2", Value: "hot"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	step, err = s.handleRespond(ctx, req, respondArgs{OperatorID: "nurse-a", SessionID: id, NodeID: "q2", Value: "39"})
	require.NoError(t, err)
	assert.Equal(t, "boolean", step.NextNode.Input)

	step, err = s.handleRespond(ctx, req, respondArgs{OperatorID: "nurse-a", SessionID: id, NodeID: "q3", Value: "true"})
	require.NoError(t, err)
	assert.True(t, step.Complete)
	assert.Equal(t, "Refer to physician", step.TerminalNode.Content)

	result, err := s.handleResult(ctx, req, sessionArgs{OperatorID: "nurse-a", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, result.Status)
	assert.Equal(t, 15, result.TotalScore)

	_, err = s.handleResult(ctx, req, sessionArgs{OperatorID: "nurse-b", SessionID: id})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestServer_BulkReconcileTool(t *testing.T) {
	s, store := newServer(t)
	ctx := context.Background()

	now := time.Now().UTC()
	items := []domain.OfflineSession{{
		LocalID:          "local-1",
		VersionID:        "fever-v1",
		Responses:        []domain.Response{testutils.Text("entry", "no")},
		OfflineCreatedAt: now,
		OfflineSavedAt:   now,
	}}
	data, err := json.Marshal(items)
	require.NoError(t, err)

	report, err := s.handleReconcile(ctx, mcp.CallToolRequest{}, reconcileArgs{OperatorID: "nurse-a", Items: string(data)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.PersistedCount)
	require.Len(t, report.IDMapping, 1)

	persisted, err := store.Load(ctx, report.IDMapping[0].SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, persisted.FinalPriority)

	_, err = s.handleReconcile(ctx, mcp.CallToolRequest{}, reconcileArgs{OperatorID: "nurse-a", Items: "not json"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestServer_VersionsResource(t *testing.T) {
	s, _ := newServer(t)
	initialize(t, s)

	reply := rpc(t, s, 1, "resources/read", map[string]any{"uri": versionsURI})
	result, ok := reply["result"].(map[string]any)
	require.True(t, ok, "unexpected reply: %v", reply)
	contents := result["contents"].([]any)
	require.Len(t, contents, 1)

	var versions []domain.ProtocolVersion
	text := contents[0].(map[string]any)["text"].(string)
	require.NoError(t, json.Unmarshal([]byte(text), &versions))
	assert.Len(t, versions, 2, fmt.Sprint(text))
}
