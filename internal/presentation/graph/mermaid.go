package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/engine"
)

// GraphOverlay contains session state to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
	// DeadEnd marks CurrentNode as a node where no branch matched.
	DeadEnd bool
}

// OverlayFor builds the overlay of a session: every answered node is visited, and the
// current (or final) node is highlighted.
func OverlayFor(s *domain.Session) *GraphOverlay {
	o := &GraphOverlay{
		CurrentNode: s.CurrentNodeID,
		DeadEnd:     s.EndedUnexpectedly,
	}
	if s.FinalNodeID != "" {
		o.CurrentNode = s.FinalNodeID
	}
	for _, r := range s.Responses {
		o.VisitedNodes = append(o.VisitedNodes, r.NodeID)
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a protocol version.
// Node shapes follow the node kind:
// - Question: [/Parallelogram/]
// - Action: [[Subroutine]]
// - Terminal: ([Stadium])
// The entry node is drawn as a ((Circle)). Wildcard rules are drawn dotted.
func GenerateMermaid(v *domain.ProtocolVersion, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	entryID := ""
	if entry, err := engine.EntryNode(v.Nodes); err == nil {
		entryID = entry.ID
	}

	for _, node := range v.Nodes {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch {
		case node.ID == entryID:
			opener, closer = "((", "))"
		case node.Kind == domain.KindQuestion:
			opener, closer = "[/", "/]"
		case node.Kind == domain.KindAction:
			opener, closer = "[[", "]]"
		case node.Kind == domain.KindTerminal:
			opener, closer = "([", "])"
		}

		text := node.ID
		if node.Content != "" {
			text = fmt.Sprintf("%s <br/> %s", node.ID, escapeLabel(node.Content))
		}
		if node.ScoreValue != 0 {
			text = fmt.Sprintf("%s <br/> +%d", text, node.ScoreValue)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, text, closer))
	}

	for _, rule := range v.BranchRules {
		from := sanitizeMermaidID(rule.NodeID)
		to := sanitizeMermaidID(rule.NextNodeID)
		if rule.IsWildcard() {
			sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", from, to))
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", from, escapeLabel(rule.ConditionValue), to))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef deadend fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			class := "current"
			if overlay.DeadEnd {
				class = "deadend"
			}
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(overlay.CurrentNode), class))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
