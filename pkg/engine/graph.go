package engine

import (
	"fmt"
	"strings"

	"github.com/aretw0/caretree/pkg/domain"
)

// Graph is an indexed, read-only view over a protocol version.
// Duplicate node IDs resolve to the first node in document order.
type Graph struct {
	version *domain.ProtocolVersion
	nodes   map[string]int
	rules   map[string][]domain.BranchRule
}

// NewGraph indexes a version. A version with zero nodes yields domain.ErrEmptyProtocol.
func NewGraph(v *domain.ProtocolVersion) (*Graph, error) {
	if v == nil {
		return nil, domain.ErrVersionNotFound
	}
	if len(v.Nodes) == 0 {
		return nil, fmt.Errorf("version %s: %w", v.ID, domain.ErrEmptyProtocol)
	}

	g := &Graph{
		version: v,
		nodes:   make(map[string]int, len(v.Nodes)),
		rules:   make(map[string][]domain.BranchRule),
	}
	for i, n := range v.Nodes {
		if _, dup := g.nodes[n.ID]; !dup {
			g.nodes[n.ID] = i
		}
	}
	for _, r := range v.BranchRules {
		g.rules[r.NodeID] = append(g.rules[r.NodeID], r)
	}
	return g, nil
}

// Version returns the indexed version.
func (g *Graph) Version() *domain.ProtocolVersion {
	return g.version
}

// Node looks a node up by ID.
func (g *Graph) Node(id string) (domain.Node, bool) {
	i, ok := g.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return g.version.Nodes[i], true
}

// Entry returns the first non-terminal node in document order, or the first node.
func (g *Graph) Entry() domain.Node {
	for _, n := range g.version.Nodes {
		if !n.Kind.IsTerminal() {
			return n
		}
	}
	return g.version.Nodes[0]
}

// Next resolves the node reached from currentNodeID with the given response.
// The first case-insensitive exact match in stored order wins, then the wildcard.
// Boolean answers also match the yes/no spellings of their value.
// It reports false on a dead end, including a rule pointing at a missing node.
func (g *Graph) Next(currentNodeID string, value domain.ResponseValue) (domain.Node, bool) {
	target, ok := matchRule(g.rules[currentNodeID], value.Forms())
	if !ok {
		return domain.Node{}, false
	}
	return g.Node(target)
}

// Hints returns the exact-match condition values available from a node.
func (g *Graph) Hints(nodeID string) []string {
	return hints(g.rules[nodeID])
}

func matchRule(rules []domain.BranchRule, forms []string) (string, bool) {
	for _, r := range rules {
		for _, f := range forms {
			if strings.EqualFold(r.ConditionValue, f) {
				return r.NextNodeID, true
			}
		}
	}
	for _, r := range rules {
		if r.IsWildcard() {
			return r.NextNodeID, true
		}
	}
	return "", false
}

func hints(rules []domain.BranchRule) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.IsWildcard() || isInequality(r.ConditionValue) {
			continue
		}
		key := strings.ToLower(r.ConditionValue)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r.ConditionValue)
	}
	return out
}

// isInequality detects comparison-looking literals such as ">38" or "<=2".
func isInequality(cond string) bool {
	c := strings.TrimSpace(cond)
	return strings.HasPrefix(c, "<") ||
		strings.HasPrefix(c, ">") ||
		strings.HasPrefix(c, "=") ||
		strings.HasPrefix(c, "!=")
}
