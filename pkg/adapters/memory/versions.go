package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/caretree/pkg/domain"
)

// VersionRepository implements ports.VersionRepository in memory.
// Safe for concurrent use.
type VersionRepository struct {
	mu       sync.RWMutex
	versions map[string]*domain.ProtocolVersion
	active   map[string]string // protocolID -> versionID
}

// NewVersionRepository creates a repository seeded with the given versions.
// Versions flagged Active become the active version of their protocol.
func NewVersionRepository(versions ...*domain.ProtocolVersion) *VersionRepository {
	r := &VersionRepository{
		versions: make(map[string]*domain.ProtocolVersion),
		active:   make(map[string]string),
	}
	for _, v := range versions {
		r.put(v)
	}
	return r
}

func (r *VersionRepository) put(v *domain.ProtocolVersion) {
	c := v.Clone()
	r.versions[c.ID] = c
	if c.Active {
		r.active[c.ProtocolID] = c.ID
	}
}

// Publish stores a new version and makes it the active one, superseding
// (never deleting) the previously active version of the same protocol.
func (r *VersionRepository) Publish(v *domain.ProtocolVersion) error {
	if v == nil || v.ID == "" || v.ProtocolID == "" {
		return domain.Invalid("version", "id and protocolId are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.versions[v.ID]; exists {
		return fmt.Errorf("version %s already published", v.ID)
	}
	if prev, ok := r.active[v.ProtocolID]; ok {
		superseded := r.versions[prev].Clone()
		superseded.Active = false
		r.versions[prev] = superseded
	}

	published := v.Clone()
	published.Active = true
	r.put(published)
	return nil
}

// GetVersion returns a copy of the version.
func (r *VersionRepository) GetVersion(ctx context.Context, versionID string) (*domain.ProtocolVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
	}
	return v.Clone(), nil
}

// GetLatestActive returns the active version of a protocol.
func (r *VersionRepository) GetLatestActive(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[protocolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveVersion, protocolID)
	}
	return r.versions[id].Clone(), nil
}

// ListVersions returns every version ordered by protocol then version number.
func (r *VersionRepository) ListVersions(ctx context.Context) ([]*domain.ProtocolVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ProtocolVersion, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProtocolID != out[j].ProtocolID {
			return out[i].ProtocolID < out[j].ProtocolID
		}
		return out[i].VersionNumber < out[j].VersionNumber
	})
	return out, nil
}
