package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/caretree/pkg/domain"
)

// LoggingHooks logs every lifecycle event at debug level, and resolutions and
// reconcile failures at info and warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	session := func(level slog.Level) func(context.Context, *domain.SessionEvent) {
		return func(ctx context.Context, e *domain.SessionEvent) {
			logger.Log(ctx, level, string(e.Type),
				"session_id", e.SessionID,
				"version_id", e.VersionID,
				"node_id", e.NodeID,
				"score", e.Score,
				"priority", e.Priority,
				"dead_end", e.Implicit,
				"offline", e.Offline,
			)
		}
	}
	return domain.LifecycleHooks{
		OnSessionStart: session(slog.LevelDebug),
		OnResponse:     session(slog.LevelDebug),
		OnBack:         session(slog.LevelDebug),
		OnResolve:      session(slog.LevelInfo),
		OnReconcile: func(ctx context.Context, e *domain.ReconcileEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "reconcile_rejected", "local_id", e.LocalID, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "reconcile",
				"local_id", e.LocalID,
				"session_id", e.SessionID,
				"duplicate", e.Duplicate,
			)
		},
	}
}
