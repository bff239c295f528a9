package ports

import (
	"context"

	"github.com/aretw0/caretree/pkg/domain"
)

// OfflineQueue is the durable store of sessions recorded while disconnected.
// Items are only removed explicitly, after the server has accounted for them.
type OfflineQueue interface {
	// Enqueue appends an item durably. Re-enqueueing a local ID replaces the item.
	Enqueue(ctx context.Context, item domain.OfflineSession) error

	// Snapshot returns every queued item in enqueue order.
	Snapshot(ctx context.Context) ([]domain.OfflineSession, error)

	// Remove drops the given local IDs. Unknown IDs are ignored.
	Remove(ctx context.Context, localIDs ...string) error

	// Len returns the number of queued items.
	Len(ctx context.Context) (int, error)

	// Close flushes and releases the queue.
	Close() error
}
