package memory

import (
	"context"
	"sync"

	"github.com/aretw0/caretree/pkg/domain"
)

// Queue implements ports.OfflineQueue in memory. It is not durable and is meant
// for tests and ephemeral replicas.
type Queue struct {
	mu    sync.Mutex
	items []domain.OfflineSession
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an item or replaces the item with the same local ID.
func (q *Queue) Enqueue(ctx context.Context, item domain.OfflineSession) error {
	if item.LocalID == "" {
		return domain.Invalid("localId", "is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].LocalID == item.LocalID {
			q.items[i] = item
			return nil
		}
	}
	q.items = append(q.items, item)
	return nil
}

// Snapshot returns a copy of the queued items.
func (q *Queue) Snapshot(ctx context.Context) ([]domain.OfflineSession, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.OfflineSession(nil), q.items...), nil
}

// Remove drops the given local IDs.
func (q *Queue) Remove(ctx context.Context, localIDs ...string) error {
	drop := make(map[string]bool, len(localIDs))
	for _, id := range localIDs {
		drop[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, item := range q.items {
		if !drop[item.LocalID] {
			kept = append(kept, item)
		}
	}
	q.items = kept
	return nil
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close is a no-op.
func (q *Queue) Close() error { return nil }
