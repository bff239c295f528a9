package engine

import (
	"fmt"

	"github.com/aretw0/caretree/pkg/domain"
)

// Score thresholds shared by every execution context.
const (
	EmergencyThreshold = 15
	HighThreshold      = 10
	MediumThreshold    = 5
)

// DefaultMaxHops bounds the length of a traversal. Protocol graphs are not checked
// for cycles, so a cyclic protocol stops here instead of growing a history forever.
const DefaultMaxHops = 512

// ResolveNext selects the node reached from currentNodeID with the given response.
// It reports false on a dead end.
func ResolveNext(nodes []domain.Node, rules []domain.BranchRule, currentNodeID string, value domain.ResponseValue) (domain.Node, bool) {
	var outgoing []domain.BranchRule
	for _, r := range rules {
		if r.NodeID == currentNodeID {
			outgoing = append(outgoing, r)
		}
	}
	target, ok := matchRule(outgoing, value.Forms())
	if !ok {
		return domain.Node{}, false
	}
	for _, n := range nodes {
		if n.ID == target {
			return n, true
		}
	}
	return domain.Node{}, false
}

// AccumulateScore sums the captured score of every response.
func AccumulateScore(responses []domain.Response) int {
	total := 0
	for _, r := range responses {
		total += r.ScoreApplied
	}
	return total
}

// ClassifyByScore maps a score onto the fixed priority thresholds.
func ClassifyByScore(score int) domain.Priority {
	switch {
	case score >= EmergencyThreshold:
		return domain.PriorityEmergency
	case score >= HighThreshold:
		return domain.PriorityHigh
	case score >= MediumThreshold:
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

// ClassifyTerminal uses the terminal node's label when it is a priority,
// otherwise the score.
func ClassifyTerminal(node domain.Node, score int) domain.Priority {
	if p, ok := domain.ParsePriority(node.Content); ok {
		return p
	}
	return ClassifyByScore(score)
}

// EntryNode returns the entry point of a node list.
func EntryNode(nodes []domain.Node) (domain.Node, error) {
	if len(nodes) == 0 {
		return domain.Node{}, fmt.Errorf("%w: %w", domain.ErrNoEntryNode, domain.ErrEmptyProtocol)
	}
	for _, n := range nodes {
		if !n.Kind.IsTerminal() {
			return n, nil
		}
	}
	return nodes[0], nil
}

// InputHints lists the exact-match conditions leaving a node, without the wildcard
// and without inequality-style literals.
func InputHints(rules []domain.BranchRule, nodeID string) []string {
	var outgoing []domain.BranchRule
	for _, r := range rules {
		if r.NodeID == nodeID {
			outgoing = append(outgoing, r)
		}
	}
	return hints(outgoing)
}

// Engine carries the traversal limits. The zero value is not usable; use New.
type Engine struct {
	maxHops int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxHops overrides the traversal bound. Non-positive values are ignored.
func WithMaxHops(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHops = n
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{maxHops: DefaultMaxHops}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Default is the engine used by the package-level helpers.
var Default = New()

// MaxHops returns the traversal bound.
func (e *Engine) MaxHops() int {
	return e.maxHops
}
