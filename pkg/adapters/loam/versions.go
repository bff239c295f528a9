// Package loam reads protocol versions from a Loam content repository: Markdown
// documents whose front matter holds the version, plus plain JSON or YAML files.
// The Markdown body is free text for authors and is not part of the version.
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/caretree/pkg/adapters/file"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/loam"
)

// VersionMetadata is the front matter of a version document, decoded leniently
// by file.DecodeVersionMap.
type VersionMetadata map[string]any

// VersionRepository implements ports.VersionRepository over a Loam repository.
// The repository is read once per Reload; lookups are served from memory.
type VersionRepository struct {
	Repo *loam.TypedRepository[VersionMetadata]

	mu    sync.RWMutex
	index *memory.VersionRepository
}

// Open initializes a read-only Loam repository at dir and loads its versions.
func Open(ctx context.Context, dir string) (*VersionRepository, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	// Strict mode keeps numbers as json.Number across Markdown and JSON documents.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(ctx, loam.NewTypedRepository[VersionMetadata](repo))
}

// New wraps an existing typed repository and loads its versions.
func New(ctx context.Context, repo *loam.TypedRepository[VersionMetadata]) (*VersionRepository, error) {
	r := &VersionRepository{Repo: repo}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every document. The previous snapshot is kept on error.
func (r *VersionRepository) Reload(ctx context.Context) error {
	docs, err := r.Repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string, len(docs))
	versions := make([]*domain.ProtocolVersion, 0, len(docs))
	for _, doc := range docs {
		raw := map[string]any(doc.Data)
		if raw == nil {
			raw = map[string]any{}
		}
		if _, ok := raw["id"]; !ok {
			raw["id"] = trimExtension(doc.ID)
		}
		v, err := file.DecodeVersionMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.ID, err)
		}
		if prev, dup := seen[v.ID]; dup {
			return domain.Invalid("id", "version %q is defined in both %s and %s", v.ID, prev, doc.ID)
		}
		seen[v.ID] = doc.ID
		versions = append(versions, v)
	}

	// The highest active version of a protocol is indexed last and wins.
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})

	r.mu.Lock()
	r.index = memory.NewVersionRepository(versions...)
	r.mu.Unlock()
	return nil
}

func (r *VersionRepository) snapshot() *memory.VersionRepository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// GetVersion returns a version by ID.
func (r *VersionRepository) GetVersion(ctx context.Context, versionID string) (*domain.ProtocolVersion, error) {
	return r.snapshot().GetVersion(ctx, versionID)
}

// GetLatestActive returns the active version of a protocol.
func (r *VersionRepository) GetLatestActive(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	return r.snapshot().GetLatestActive(ctx, protocolID)
}

// ListVersions returns every loaded version.
func (r *VersionRepository) ListVersions(ctx context.Context) ([]*domain.ProtocolVersion, error) {
	return r.snapshot().ListVersions(ctx)
}

func trimExtension(id string) string {
	return filepath.ToSlash(strings.TrimSuffix(id, filepath.Ext(id)))
}
