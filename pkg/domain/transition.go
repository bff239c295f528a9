package domain

// Wildcard is the condition value of the default branch of a node.
const Wildcard = "*"

// BranchRule maps a response at a source node to the next node.
type BranchRule struct {
	NodeID string `json:"nodeId" yaml:"nodeId" mapstructure:"nodeId"`

	// ConditionValue is compared case-insensitively against the response.
	// Values such as ">38" are literals, never evaluated.
	ConditionValue string `json:"conditionValue" yaml:"conditionValue" mapstructure:"conditionValue"`

	NextNodeID string `json:"nextNodeId" yaml:"nextNodeId" mapstructure:"nextNodeId"`
}

// IsWildcard reports whether the rule is the default branch.
func (r BranchRule) IsWildcard() bool {
	return r.ConditionValue == Wildcard
}
