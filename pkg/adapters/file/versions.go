package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// VersionRepository implements ports.VersionRepository over a directory of
// protocol version documents (.json, .yaml or .yml), one version per file.
// Documents are decoded leniently: scores written as strings and node types in any
// case are accepted.
type VersionRepository struct {
	dir string

	mu       sync.RWMutex
	versions map[string]*domain.ProtocolVersion
}

// NewVersionRepository loads every version document found in dir.
func NewVersionRepository(dir string) (*VersionRepository, error) {
	r := &VersionRepository{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the directory. The previous snapshot is kept on error.
func (r *VersionRepository) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read versions directory: %w", err)
	}

	loaded := make(map[string]*domain.ProtocolVersion)
	for _, entry := range entries {
		if entry.IsDir() || !isVersionDocument(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		v, err := LoadVersion(path)
		if err != nil {
			return err
		}
		if prev, dup := loaded[v.ID]; dup {
			return domain.Invalid("id", "version %q is declared twice (%s)", prev.ID, path)
		}
		loaded[v.ID] = v
	}

	r.mu.Lock()
	r.versions = loaded
	r.mu.Unlock()
	return nil
}

// GetVersion returns a version by ID.
func (r *VersionRepository) GetVersion(ctx context.Context, versionID string) (*domain.ProtocolVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
	}
	return v.Clone(), nil
}

// GetLatestActive returns the active version of a protocol. When several documents
// are flagged active, the highest version number wins.
func (r *VersionRepository) GetLatestActive(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.ProtocolVersion
	for _, v := range r.versions {
		if v.ProtocolID != protocolID || !v.Active {
			continue
		}
		if best == nil || v.VersionNumber > best.VersionNumber {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveVersion, protocolID)
	}
	return best.Clone(), nil
}

// ListVersions returns every loaded version ordered by protocol then version number.
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

// LoadVersion decodes a single version document.
func LoadVersion(path string) (*domain.ProtocolVersion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version %s: %w", path, err)
	}
	v, err := DecodeVersion(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// DecodeVersion decodes a version document. ext selects the syntax (".json",
// ".yaml" or ".yml").
func DecodeVersion(ext string, data []byte) (*domain.ProtocolVersion, error) {
	var raw map[string]any
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported version document %q", ext)
	}
	return DecodeVersionMap(raw)
}

// DecodeVersionMap decodes an already parsed version document and checks its
// identity fields.
func DecodeVersionMap(raw map[string]any) (*domain.ProtocolVersion, error) {
	var v domain.ProtocolVersion
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &v,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid version document: %w", err)
	}

	if v.ID == "" {
		return nil, domain.Invalid("id", "is required")
	}
	if v.ProtocolID == "" {
		return nil, domain.Invalid("protocolId", "is required for version %q", v.ID)
	}
	seen := make(map[string]bool, len(v.Nodes))
	for _, n := range v.Nodes {
		if n.ID == "" {
			return nil, domain.Invalid("nodes.nodeId", "is required in version %q", v.ID)
		}
		if seen[n.ID] {
			return nil, domain.Invalid("nodes.nodeId", "%q is declared twice in version %q", n.ID, v.ID)
		}
		seen[n.ID] = true
	}
	if v.BranchRules == nil {
		v.BranchRules = []domain.BranchRule{}
	}
	return &v, nil
}

func isVersionDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return !strings.HasPrefix(name, "tmp-")
	}
	return false
}
