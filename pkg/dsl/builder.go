package dsl

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/domain"
)

// Builder accumulates the nodes and rules of one protocol version.
type Builder struct {
	version domain.ProtocolVersion
	nodes   []*NodeBuilder
	index   map[string]*NodeBuilder
	errs    []error
}

// New starts a version of a protocol. The version ID defaults to
// "<protocolID>-v<number>".
func New(protocolID string, number int) *Builder {
	return &Builder{
		version: domain.ProtocolVersion{
			ID:            fmt.Sprintf("%s-v%d", protocolID, number),
			ProtocolID:    protocolID,
			VersionNumber: number,
		},
		index: make(map[string]*NodeBuilder),
	}
}

// ID overrides the version ID.
func (b *Builder) ID(id string) *Builder {
	b.version.ID = id
	return b
}

// Active flags the version as the active one of its protocol.
func (b *Builder) Active() *Builder {
	b.version.Active = true
	return b
}

// PublishedAt records the publication time.
func (b *Builder) PublishedAt(t time.Time) *Builder {
	b.version.PublishedAt = &t
	return b
}

// Question declares a question node.
func (b *Builder) Question(id, content string) *NodeBuilder {
	return b.add(id, domain.KindQuestion, content)
}

// Action declares an action node: an instruction the operator acknowledges.
func (b *Builder) Action(id, content string) *NodeBuilder {
	return b.add(id, domain.KindAction, content)
}

// Terminal declares a terminal node. content is a priority label or free text.
func (b *Builder) Terminal(id, content string) *Builder {
	b.add(id, domain.KindTerminal, content)
	return b
}

func (b *Builder) add(id string, kind domain.NodeKind, content string) *NodeBuilder {
	nb := &NodeBuilder{
		builder: b,
		node:    domain.Node{ID: id, Kind: kind, Content: content},
	}
	if _, dup := b.index[id]; dup {
		b.errs = append(b.errs, domain.Invalid("nodeId", "%q is declared twice", id))
		return nb
	}
	b.index[id] = nb
	b.nodes = append(b.nodes, nb)
	return nb
}

// Build checks the graph and returns the version. Every rule must point at a
// declared node.
func (b *Builder) Build() (*domain.ProtocolVersion, error) {
	errs := append([]error(nil), b.errs...)
	if len(b.nodes) == 0 {
		errs = append(errs, fmt.Errorf("version %s: %w", b.version.ID, domain.ErrEmptyProtocol))
	}

	v := b.version
	v.Nodes = make([]domain.Node, 0, len(b.nodes))
	v.BranchRules = []domain.BranchRule{}
	for _, nb := range b.nodes {
		v.Nodes = append(v.Nodes, nb.node)
		for _, r := range nb.rules {
			if _, ok := b.index[r.NextNodeID]; !ok {
				errs = append(errs, domain.Invalid("nextNodeId", "%s branches to unknown node %q", r.NodeID, r.NextNodeID))
			}
			v.BranchRules = append(v.BranchRules, r)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &v, nil
}

// MustBuild is Build for fixtures: it panics on an invalid graph.
func (b *Builder) MustBuild() *domain.ProtocolVersion {
	v, err := b.Build()
	if err != nil {
		panic(err)
	}
	return v
}

// BuildRepository builds the version and serves it from an in-memory repository.
func (b *Builder) BuildRepository() (*memory.VersionRepository, error) {
	v, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build version: %w", err)
	}
	return memory.NewVersionRepository(v), nil
}
