// Package reconcile accepts sessions recorded offline. Each item is re-derived from
// its response history by the decision engine; client-computed scores and
// priorities are never trusted.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/google/uuid"
)

// DefaultMaxBatch bounds the number of items accepted in one call.
const DefaultMaxBatch = 500

// Service reconciles batches of offline sessions.
type Service struct {
	versions ports.VersionRepository
	store    ports.SessionStore
	engine   *engine.Engine
	maxBatch int
	newID    func() string
	now      func() time.Time

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the decision engine used for replay.
func WithEngine(e *engine.Engine) Option {
	return func(s *Service) {
		s.engine = e
	}
}

// WithMaxBatch bounds the batch size.
func WithMaxBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithHooks registers lifecycle hooks (OnReconcile).
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Service) {
		s.hooks = s.hooks.Merge(hooks)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a reconciliation service.
func NewService(versions ports.VersionRepository, store ports.SessionStore, opts ...Option) *Service {
	s := &Service{
		versions: versions,
		store:    store,
		engine:   engine.Default,
		maxBatch: DefaultMaxBatch,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BulkReconcile persists each valid item under operatorID and reports every item
// either in IDMapping or in Errors. One bad item never aborts the batch. Only a
// malformed request (no operator, oversized batch) fails as a whole.
//
// Resubmitting an already reconciled local ID with the same history maps it to the
// session assigned the first time, flagged Duplicate, without persisting it again.
// A resubmission with a different history is rejected as an item error.
func (s *Service) BulkReconcile(ctx context.Context, operatorID string, items []domain.OfflineSession) (domain.ReconcileReport, error) {
	if operatorID == "" {
		return domain.ReconcileReport{}, domain.Invalid("operatorId", "is required")
	}
	if len(items) > s.maxBatch {
		return domain.ReconcileReport{}, domain.Invalid("sessions", "batch of %d exceeds the limit of %d", len(items), s.maxBatch)
	}

	report := domain.ReconcileReport{
		IDMapping: make([]domain.IDMapping, 0, len(items)),
		Errors:    []domain.ItemError{},
	}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for _, rest := range items[i:] {
				report.Errors = append(report.Errors, domain.ItemError{
					LocalID:   rest.LocalID,
					Kind:      domain.KindInternal,
					Reason:    fmt.Sprintf("not processed: %v", err),
					Retryable: true,
				})
			}
			break
		}

		mapping, persisted, err := s.reconcileOne(ctx, operatorID, item)
		event := &domain.ReconcileEvent{LocalID: item.LocalID, Err: err}
		if err != nil {
			kind := domain.Kind(err)
			report.Errors = append(report.Errors, domain.ItemError{
				LocalID:   item.LocalID,
				Kind:      kind,
				Reason:    err.Error(),
				Retryable: kind == domain.KindInternal,
			})
			s.logger.Warn("offline session rejected", "local_id", item.LocalID, "kind", kind, "err", err)
		} else {
			report.IDMapping = append(report.IDMapping, mapping)
			if persisted {
				report.PersistedCount++
			}
			event.SessionID = mapping.SessionID
			event.Duplicate = mapping.Duplicate
		}
		s.hooks.EmitReconcile(ctx, event)
	}

	s.logger.Info("bulk reconcile",
		"operator_id", operatorID,
		"items", len(items),
		"persisted", report.PersistedCount,
		"errors", len(report.Errors),
	)
	return report, nil
}

// BulkReconcileJSON decodes every item on its own before reconciling, so a malformed
// item becomes a validation error in the report instead of failing the batch. The
// local ID of a malformed item is recovered when the object still carries one.
func (s *Service) BulkReconcileJSON(ctx context.Context, operatorID string, raw []json.RawMessage) (domain.ReconcileReport, error) {
	if len(raw) > s.maxBatch {
		return domain.ReconcileReport{}, domain.Invalid("sessions", "batch of %d exceeds the limit of %d", len(raw), s.maxBatch)
	}

	items := make([]domain.OfflineSession, 0, len(raw))
	var malformed []domain.ItemError
	for i, data := range raw {
		var item domain.OfflineSession
		if err := json.Unmarshal(data, &item); err != nil {
			e := domain.ItemError{
				LocalID: localIDOf(data),
				Kind:    domain.KindValidation,
				Reason:  fmt.Sprintf("items[%d]: %v", i, err),
			}
			malformed = append(malformed, e)
			s.logger.Warn("malformed offline session", "index", i, "local_id", e.LocalID, "err", err)
			continue
		}
		items = append(items, item)
	}

	report, err := s.BulkReconcile(ctx, operatorID, items)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	for _, e := range malformed {
		s.hooks.EmitReconcile(ctx, &domain.ReconcileEvent{LocalID: e.LocalID, Err: domain.Invalid("item", "%s", e.Reason)})
	}
	report.Errors = append(report.Errors, malformed...)
	return report, nil
}

func localIDOf(data json.RawMessage) string {
	var head struct {
		LocalID any `json:"localId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	id, _ := head.LocalID.(string)
	return id
}

func (s *Service) reconcileOne(ctx context.Context, operatorID string, item domain.OfflineSession) (domain.IDMapping, bool, error) {
	if err := validate(operatorID, item); err != nil {
		return domain.IDMapping{}, false, err
	}

	v, err := s.versions.GetVersion(ctx, item.VersionID)
	if err != nil {
		return domain.IDMapping{}, false, err
	}
	out, err := s.engine.Replay(v, item.Responses)
	if err != nil {
		return domain.IDMapping{}, false, err
	}

	sessionID, claimed, err := s.store.ClaimLocalID(ctx, item.LocalID, s.newID())
	if err != nil {
		return domain.IDMapping{}, false, fmt.Errorf("failed to claim local id: %w", err)
	}
	if !claimed {
		existing, err := s.store.Load(ctx, sessionID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			// Claimed by an attempt that never persisted; finish it under the bound ID.
		case err != nil:
			return domain.IDMapping{}, false, fmt.Errorf("failed to load reconciled session: %w", err)
		case existing.OperatorID != operatorID:
			return domain.IDMapping{}, false, fmt.Errorf("%w: %s", domain.ErrDuplicateLocalID, item.LocalID)
		case !sameHistory(existing.Responses, out.Responses):
			return domain.IDMapping{}, false, fmt.Errorf("%w: %s was resubmitted with a different history", domain.ErrDuplicateLocalID, item.LocalID)
		default:
			return domain.IDMapping{LocalID: item.LocalID, SessionID: sessionID, Duplicate: true}, false, nil
		}
	}

	session := s.build(sessionID, operatorID, v, item, out)
	if err := s.store.Save(ctx, session); err != nil {
		if claimed {
			if rerr := s.store.ReleaseLocalID(ctx, item.LocalID); rerr != nil {
				s.logger.Warn("failed to release local id claim", "local_id", item.LocalID, "err", rerr)
			}
		}
		return domain.IDMapping{}, false, fmt.Errorf("failed to persist session: %w", err)
	}

	if item.FinalPriority != "" && item.FinalPriority != session.FinalPriority {
		s.logger.Warn("client priority disagreed with replay",
			"local_id", item.LocalID,
			"client", item.FinalPriority,
			"authoritative", session.FinalPriority,
		)
	}
	return domain.IDMapping{LocalID: item.LocalID, SessionID: sessionID}, true, nil
}

func (s *Service) build(id, operatorID string, v *domain.ProtocolVersion, item domain.OfflineSession, out engine.Outcome) *domain.Session {
	now := s.now()
	session := &domain.Session{
		ID:                id,
		LocalID:           item.LocalID,
		OperatorID:        operatorID,
		ProtocolID:        v.ProtocolID,
		VersionID:         v.ID,
		Responses:         out.Responses,
		TotalScore:        out.TotalScore,
		FinalPriority:     out.FinalPriority,
		EndedUnexpectedly: out.EndedUnexpectedly,
		Synced:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if out.FinalPriority.IsResolved() {
		session.FinalNodeID = out.FinalNodeID
	} else {
		session.CurrentNodeID = out.FinalNodeID
	}
	if !item.OfflineCreatedAt.IsZero() {
		created := item.OfflineCreatedAt
		session.OfflineCreatedAt = &created
	}
	return session
}

func sameHistory(a, b []domain.Response) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].NodeID != b[i].NodeID ||
			a[i].Value.Kind() != b[i].Value.Kind() ||
			a[i].Value.String() != b[i].Value.String() {
			return false
		}
	}
	return true
}

func validate(operatorID string, item domain.OfflineSession) error {
	switch {
	case item.LocalID == "":
		return domain.Invalid("localId", "is required")
	case item.VersionID == "":
		return domain.Invalid("versionId", "is required")
	case len(item.Sealed) > 0:
		return domain.Invalid("sealed", "item was sent still encrypted")
	case item.OperatorID != "" && item.OperatorID != operatorID:
		return domain.Invalid("operatorId", "item belongs to %q", item.OperatorID)
	}
	for i, r := range item.Responses {
		if r.NodeID == "" {
			return domain.Invalid(fmt.Sprintf("responses[%d].nodeId", i), "is required")
		}
	}
	return nil
}
