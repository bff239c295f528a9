package offline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/aretw0/caretree/pkg/reconcile"
)

var errOffline = errors.New("network unreachable")

// fakeUpstream records calls and answers through optional hooks.
type fakeUpstream struct {
	mu       sync.Mutex
	versions map[string]*domain.ProtocolVersion
	received [][]domain.OfflineSession
	calls    atomic.Int32

	reconcile func(ctx context.Context, items []domain.OfflineSession) (domain.ReconcileReport, error)
	fail      error
}

func (f *fakeUpstream) LatestVersion(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[protocolID]
	if !ok {
		return nil, domain.ErrNoActiveVersion
	}
	return v.Clone(), nil
}

func (f *fakeUpstream) BulkReconcile(ctx context.Context, items []domain.OfflineSession) (domain.ReconcileReport, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.received = append(f.received, items)
	f.mu.Unlock()

	if f.fail != nil {
		return domain.ReconcileReport{}, f.fail
	}
	if f.reconcile != nil {
		return f.reconcile(ctx, items)
	}
	report := domain.ReconcileReport{IDMapping: []domain.IDMapping{}, Errors: []domain.ItemError{}}
	for _, item := range items {
		report.PersistedCount++
		report.IDMapping = append(report.IDMapping, domain.IDMapping{LocalID: item.LocalID, SessionID: "srv-" + item.LocalID})
	}
	return report, nil
}

// serverUpstream reconciles straight into a server-side service.
type serverUpstream struct {
	versions   ports.VersionRepository
	reconciler *reconcile.Service
	operatorID string
}

func (u *serverUpstream) LatestVersion(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	return u.versions.GetLatestActive(ctx, protocolID)
}

func (u *serverUpstream) BulkReconcile(ctx context.Context, items []domain.OfflineSession) (domain.ReconcileReport, error) {
	return u.reconciler.BulkReconcile(ctx, u.operatorID, items)
}
