package ports

import (
	"context"

	"github.com/aretw0/caretree/pkg/domain"
)

// Upstream is the replica's connection to the authoritative server.
// Implementations must bound every call with a timeout.
type Upstream interface {
	// LatestVersion fetches the active version of a protocol.
	LatestVersion(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error)

	// BulkReconcile submits queued sessions. A transport error means nothing is known
	// about the batch; a report accounts for every item.
	BulkReconcile(ctx context.Context, items []domain.OfflineSession) (domain.ReconcileReport, error)
}
