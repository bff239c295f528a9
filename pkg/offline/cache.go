package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/adapters/file"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
)

// Cache is the replica's snapshot of protocol versions, one per protocol, persisted
// as JSON documents under a directory. It implements ports.VersionRepository so the
// replica reads versions exactly as the server does.
//
// Only the latest fetched version of each protocol is kept on disk. Versions held
// in memory by the running process outlive a refresh, so in-flight sessions keep
// their version.
type Cache struct {
	dir    string
	logger *slog.Logger

	mu         sync.RWMutex
	byProtocol map[string]*domain.ProtocolVersion
	byVersion  map[string]*domain.ProtocolVersion
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// OpenCache loads the cached versions found in dir. A missing directory is an empty cache.
func OpenCache(dir string, opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		dir:        dir,
		logger:     logging.NewNop(),
		byProtocol: make(map[string]*domain.ProtocolVersion),
		byVersion:  make(map[string]*domain.ProtocolVersion),
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read version cache: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" || strings.HasPrefix(entry.Name(), "tmp-") {
			continue
		}
		v, err := file.LoadVersion(filepath.Join(dir, entry.Name()))
		if err != nil {
			// One unreadable entry must not take the whole replica offline.
			c.logger.Warn("skipping unreadable cached version", "file", entry.Name(), "err", err)
			continue
		}
		c.index(v)
	}
	return c, nil
}

func (c *Cache) index(v *domain.ProtocolVersion) {
	c.byProtocol[v.ProtocolID] = v
	c.byVersion[v.ID] = v
}

func (c *Cache) path(protocolID string) string {
	return filepath.Join(c.dir, url.PathEscape(protocolID)+".json")
}

// Put stores v as the cached version of its protocol.
func (c *Cache) Put(v *domain.ProtocolVersion) error {
	if v == nil || v.ID == "" || v.ProtocolID == "" {
		return domain.Invalid("version", "id and protocolId are required")
	}
	v = v.Clone()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := file.WriteAtomic(c.path(v.ProtocolID), data); err != nil {
		return fmt.Errorf("failed to cache version %s: %w", v.ID, err)
	}
	c.index(v)
	return nil
}

// Refresh fetches the active version of each protocol from upstream and caches it.
// Protocols that fail to refresh keep their cached version; the errors are joined.
func (c *Cache) Refresh(ctx context.Context, upstream ports.Upstream, protocolIDs ...string) error {
	var errs []error
	for _, id := range protocolIDs {
		v, err := upstream.LatestVersion(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", id, err))
			continue
		}
		if err := c.Put(v); err != nil {
			errs = append(errs, err)
			continue
		}
		c.logger.Debug("version cached", "protocol_id", id, "version_id", v.ID)
	}
	return errors.Join(errs...)
}

// Protocols lists the cached protocol IDs.
func (c *Cache) Protocols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.byProtocol))
	for id := range c.byProtocol {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetVersion returns a cached version by ID, including versions superseded in the
// cache during this process's lifetime.
func (c *Cache) GetVersion(ctx context.Context, versionID string) (*domain.ProtocolVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.byVersion[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not cached", domain.ErrVersionNotFound, versionID)
	}
	return v.Clone(), nil
}

// GetLatestActive returns the cached version of a protocol.
func (c *Cache) GetLatestActive(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.byProtocol[protocolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not cached", domain.ErrNoActiveVersion, protocolID)
	}
	return v.Clone(), nil
}

// ListVersions returns the cached version of every protocol.
func (c *Cache) ListVersions(ctx context.Context) ([]*domain.ProtocolVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.ProtocolVersion, 0, len(c.byProtocol))
	for _, v := range c.byProtocol {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out, nil
}
