package offline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultSyncTimeout bounds one reconciliation call.
	DefaultSyncTimeout = 30 * time.Second
	// DefaultTriggerInterval is the minimum spacing between reconnect-triggered drains.
	DefaultTriggerInterval = 5 * time.Second
)

// DrainResult summarises one drain.
type DrainResult struct {
	Sent       int                `json:"sent"`
	Persisted  int                `json:"persisted"`
	Duplicates int                `json:"duplicates"`
	Mapping    []domain.IDMapping `json:"idMapping,omitempty"`
	Rejected   []domain.ItemError `json:"rejected,omitempty"`
	// Retained counts items left queued for a later attempt.
	Retained int `json:"retained"`
}

// Syncer drains an OfflineQueue to the server.
type Syncer struct {
	queue    ports.OfflineQueue
	upstream ports.Upstream
	timeout  time.Duration
	limiter  *rate.Limiter
	retry    time.Duration
	logger   *slog.Logger
	onDrain  func(DrainResult)

	group singleflight.Group
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncTimeout bounds each upstream call.
func WithSyncTimeout(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTriggerInterval sets the minimum spacing between triggered drains.
func WithTriggerInterval(every time.Duration) SyncerOption {
	return func(s *Syncer) {
		s.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithRetryInterval makes Run retry a non-empty queue periodically while online.
func WithRetryInterval(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		s.retry = d
	}
}

// WithSyncLogger sets the logger.
func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// OnDrain registers a callback invoked after each completed drain, e.g. to update
// the UI with the server-assigned IDs.
func OnDrain(fn func(DrainResult)) SyncerOption {
	return func(s *Syncer) {
		s.onDrain = fn
	}
}

// NewSyncer creates a Syncer.
func NewSyncer(queue ports.OfflineQueue, upstream ports.Upstream, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		queue:    queue,
		upstream: upstream,
		timeout:  DefaultSyncTimeout,
		limiter:  rate.NewLimiter(rate.Every(DefaultTriggerInterval), 1),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Drain sends the queued sessions upstream and removes those the server accounted
// for: persisted, deduplicated, or rejected for a reason a retry cannot fix.
// A transport error leaves the queue untouched. Concurrent callers share the drain
// already in flight instead of starting another.
func (s *Syncer) Drain(ctx context.Context) (DrainResult, error) {
	v, err, shared := s.group.Do("drain", func() (any, error) {
		return s.drain(ctx)
	})
	if shared {
		s.logger.Debug("joined drain in flight")
	}
	res, _ := v.(DrainResult)
	return res, err
}

func (s *Syncer) drain(ctx context.Context) (DrainResult, error) {
	items, err := s.queue.Snapshot(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("failed to read offline queue: %w", err)
	}
	if len(items) == 0 {
		return DrainResult{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("draining offline queue", "items", len(items))
	report, err := s.upstream.BulkReconcile(callCtx, items)
	if err != nil {
		return DrainResult{Sent: len(items), Retained: len(items)}, fmt.Errorf("reconcile failed, queue kept: %w", err)
	}

	res := DrainResult{Sent: len(items), Persisted: report.PersistedCount, Mapping: report.IDMapping}
	done := make(map[string]bool, len(items))
	for _, m := range report.IDMapping {
		done[m.LocalID] = true
		if m.Duplicate {
			res.Duplicates++
		}
	}
	for _, e := range report.Errors {
		if e.Retryable {
			continue
		}
		done[e.LocalID] = true
		res.Rejected = append(res.Rejected, e)
		s.logger.Warn("offline session rejected by server", "local_id", e.LocalID, "kind", e.Kind, "err", e.Reason)
	}

	remove, err := s.acknowledged(ctx, items, done)
	if err != nil {
		return res, err
	}
	if err := s.queue.Remove(ctx, remove...); err != nil {
		return res, fmt.Errorf("failed to trim offline queue: %w", err)
	}
	res.Retained = len(items) - len(remove)

	s.logger.Info("offline queue drained",
		"persisted", res.Persisted,
		"duplicates", res.Duplicates,
		"rejected", len(res.Rejected),
		"retained", res.Retained,
	)
	if s.onDrain != nil {
		s.onDrain(res)
	}
	return res, nil
}

// acknowledged returns the local IDs safe to remove: accounted for by the server
// and not re-enqueued with newer content while the call was in flight.
func (s *Syncer) acknowledged(ctx context.Context, sent []domain.OfflineSession, done map[string]bool) ([]string, error) {
	current, err := s.queue.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read offline queue: %w", err)
	}
	savedAt := make(map[string]time.Time, len(current))
	for _, item := range current {
		savedAt[item.LocalID] = item.OfflineSavedAt
	}

	var remove []string
	for _, item := range sent {
		if !done[item.LocalID] {
			continue
		}
		if at, ok := savedAt[item.LocalID]; ok && !at.Equal(item.OfflineSavedAt) {
			continue
		}
		remove = append(remove, item.LocalID)
	}
	return remove, nil
}

// Trigger drains unless a triggered drain ran too recently. It reports whether a
// drain was attempted.
func (s *Syncer) Trigger(ctx context.Context) (bool, DrainResult, error) {
	if !s.limiter.Allow() {
		s.logger.Debug("drain trigger throttled")
		return false, DrainResult{}, nil
	}
	res, err := s.Drain(ctx)
	return true, res, err
}

// Run drains on every offline to online transition reported by online, and
// periodically while online if a retry interval is set. It returns when ctx is
// done or online is closed.
func (s *Syncer) Run(ctx context.Context, online <-chan bool) error {
	var tick <-chan time.Time
	if s.retry > 0 {
		ticker := time.NewTicker(s.retry)
		defer ticker.Stop()
		tick = ticker.C
	}

	connected := false
	attempt := func() {
		if _, _, err := s.Trigger(ctx); err != nil {
			s.logger.Warn("offline drain failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-online:
			if !ok {
				return nil
			}
			if up && !connected {
				attempt()
			}
			connected = up
		case <-tick:
			if connected {
				if n, err := s.queue.Len(ctx); err == nil && n > 0 {
					attempt()
				}
			}
		}
	}
}
