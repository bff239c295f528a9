package ports

import (
	"context"

	"github.com/aretw0/caretree/pkg/domain"
)

// VersionRepository retrieves published protocol versions.
// Versions are immutable: callers may cache what they receive.
type VersionRepository interface {
	// GetVersion returns a version by ID or domain.ErrVersionNotFound.
	GetVersion(ctx context.Context, versionID string) (*domain.ProtocolVersion, error)

	// GetLatestActive returns the active version of a protocol or domain.ErrNoActiveVersion.
	GetLatestActive(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error)

	// ListVersions enumerates every known version, ordered by protocol then number.
	ListVersions(ctx context.Context) ([]*domain.ProtocolVersion, error)
}
