package domain

import (
	"fmt"
	"strings"
)

// NodeKind is the closed set of node behaviours.
type NodeKind int

const (
	// KindQuestion presents content and waits for the operator's answer.
	KindQuestion NodeKind = iota + 1
	// KindAction presents an instruction; the operator acknowledges it to continue.
	KindAction
	// KindTerminal ends the traversal. Its content may encode the final priority.
	KindTerminal
)

var nodeKindNames = map[NodeKind]string{
	KindQuestion: "question",
	KindAction:   "action",
	KindTerminal: "terminal",
}

// ParseNodeKind parses the wire form of a node type ("question", "action", "terminal").
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "question":
		return KindQuestion, nil
	case "action":
		return KindAction, nil
	case "terminal":
		return KindTerminal, nil
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// IsTerminal reports whether reaching a node of this kind ends the session.
func (k NodeKind) IsTerminal() bool {
	return k == KindTerminal
}

// MarshalText implements encoding.TextMarshaler (used by JSON and YAML).
func (k NodeKind) MarshalText() ([]byte, error) {
	name, ok := nodeKindNames[k]
	if !ok {
		return nil, fmt.Errorf("invalid node kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Position is the layout hint used by the protocol editor. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y float64 `json:"y" yaml:"y" mapstructure:"y"`
}

// Node represents one step of a protocol version.
type Node struct {
	ID   string   `json:"nodeId" yaml:"nodeId" mapstructure:"nodeId"`
	Kind NodeKind `json:"type" yaml:"type" mapstructure:"type"`

	// Content is the question text, the action instruction, or for terminal
	// nodes either a priority label or free text.
	Content string `json:"content" yaml:"content" mapstructure:"content"`

	// ScoreValue is contributed to the session score when the node is answered.
	ScoreValue int `json:"scoreValue" yaml:"scoreValue" mapstructure:"scoreValue"`

	// Input declares the kind of value the operator must submit. Defaults to text.
	Input InputKind `json:"input,omitempty" yaml:"input,omitempty" mapstructure:"input"`

	Position *Position `json:"position,omitempty" yaml:"position,omitempty" mapstructure:"position"`
}

// ExpectedInput returns the declared input kind, defaulting to text.
func (n Node) ExpectedInput() InputKind {
	if n.Input == "" {
		return InputText
	}
	return n.Input
}
