package domain

import "time"

// Protocol is the identity a family of versions is published under.
type Protocol struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// ProtocolVersion is an immutable snapshot of a protocol graph.
// Nodes keep document order: the entry point is derived from it.
type ProtocolVersion struct {
	ID            string       `json:"id" yaml:"id" mapstructure:"id"`
	ProtocolID    string       `json:"protocolId" yaml:"protocolId" mapstructure:"protocolId"`
	VersionNumber int          `json:"versionNumber" yaml:"versionNumber" mapstructure:"versionNumber"`
	Active        bool         `json:"isActive" yaml:"isActive" mapstructure:"isActive"`
	PublishedAt   *time.Time   `json:"publishedAt,omitempty" yaml:"publishedAt,omitempty" mapstructure:"publishedAt"`
	Nodes         []Node       `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
	BranchRules   []BranchRule `json:"branchRules" yaml:"branchRules" mapstructure:"branchRules"`
}

// Clone returns a deep copy, so caches never share slices with their source.
func (v *ProtocolVersion) Clone() *ProtocolVersion {
	if v == nil {
		return nil
	}
	c := *v
	c.Nodes = make([]Node, len(v.Nodes))
	for i, n := range v.Nodes {
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		c.Nodes[i] = n
	}
	c.BranchRules = append([]BranchRule(nil), v.BranchRules...)
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}
