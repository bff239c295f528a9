package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/caretree/internal/testutils"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/observability"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsSessionLifecycle(t *testing.T) {
	metrics := observability.NewMetrics()
	mgr := session.NewManager(memory.NewStore(), memory.NewVersionRepository(testutils.FeverVersion()),
		session.WithHooks(metrics.Hooks()))
	ctx := context.Background()

	step, err := mgr.StartSession(ctx, "nurse-a", "fever-v1")
	require.NoError(t, err)
	_, err = mgr.SubmitResponse(ctx, "nurse-a", step.Session.ID, "entry", domain.TextValue("no"))
	require.NoError(t, err)

	expected := `
# HELP caretree_sessions_resolved_total Total number of sessions resolved, by priority and termination
# TYPE caretree_sessions_resolved_total counter
caretree_sessions_resolved_total{dead_end="false",offline="false",priority="Low"} 1
`
	err = testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "caretree_sessions_resolved_total")
	assert.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `caretree_sessions_started_total{offline="false",version_id="fever-v1"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetrics_ReconcileOutcomes(t *testing.T) {
	metrics := observability.NewMetrics()
	hooks := metrics.Hooks()
	ctx := context.Background()

	hooks.EmitReconcile(ctx, &domain.ReconcileEvent{LocalID: "a", SessionID: "s-1"})
	hooks.EmitReconcile(ctx, &domain.ReconcileEvent{LocalID: "b", SessionID: "s-1", Duplicate: true})
	hooks.EmitReconcile(ctx, &domain.ReconcileEvent{LocalID: "c", Err: domain.ErrVersionNotFound})
	hooks.EmitReconcile(ctx, &domain.ReconcileEvent{LocalID: "d", Err: errors.New("boom")})

	expected := `
# HELP caretree_reconcile_items_total Total number of offline items reconciled, by outcome
# TYPE caretree_reconcile_items_total counter
caretree_reconcile_items_total{outcome="duplicate"} 1
caretree_reconcile_items_total{outcome="internal"} 1
caretree_reconcile_items_total{outcome="not_found"} 1
caretree_reconcile_items_total{outcome="persisted"} 1
`
	err := testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "caretree_reconcile_items_total")
	assert.NoError(t, err)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.LoggingHooks(logger)

	hooks.Emit(context.Background(), &domain.SessionEvent{
		EventBase: domain.EventBase{Type: domain.EventResolve},
		SessionID: "s-1",
		Priority:  domain.PriorityHigh,
		Implicit:  true,
	})
	out := buf.String()
	assert.Contains(t, out, `"msg":"resolve"`)
	assert.Contains(t, out, `"session_id":"s-1"`)
	assert.Contains(t, out, `"dead_end":true`)
}
