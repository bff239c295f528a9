package dsl

import "github.com/aretw0/caretree/pkg/domain"

// NodeBuilder configures a question or action node.
type NodeBuilder struct {
	builder *Builder
	node    domain.Node
	rules   []domain.BranchRule
}

// Score sets the value added to the session score when the node is answered.
func (n *NodeBuilder) Score(value int) *NodeBuilder {
	n.node.ScoreValue = value
	return n
}

// Input declares the kind of answer the node expects.
func (n *NodeBuilder) Input(kind domain.InputKind) *NodeBuilder {
	n.node.Input = kind
	return n
}

// At sets the editor layout position.
func (n *NodeBuilder) At(x, y float64) *NodeBuilder {
	n.node.Position = &domain.Position{X: x, Y: y}
	return n
}

// When branches to target on an answer equal to condition, ignoring case.
func (n *NodeBuilder) When(condition, target string) *NodeBuilder {
	n.rules = append(n.rules, domain.BranchRule{
		NodeID:         n.node.ID,
		ConditionValue: condition,
		NextNodeID:     target,
	})
	return n
}

// Otherwise branches to target on any answer no other rule matched, and returns
// to the version builder.
func (n *NodeBuilder) Otherwise(target string) *Builder {
	n.When(domain.Wildcard, target)
	return n.builder
}

// Then returns to the version builder, leaving the node without a default branch.
func (n *NodeBuilder) Then() *Builder {
	return n.builder
}

// Build finishes the version from a node chain.
func (n *NodeBuilder) Build() (*domain.ProtocolVersion, error) {
	return n.builder.Build()
}
