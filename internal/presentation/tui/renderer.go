package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// Renderer turns markdown into terminal output.
type Renderer func(string) (string, error)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() Renderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return PlainRenderer
	}
	return r.Render
}

// PlainRenderer returns markdown untouched. It is used for non-terminal output.
func PlainRenderer(markdown string) (string, error) {
	return markdown, nil
}

// NodeMarkdown describes a node for the operator: its content, what kind of answer
// it expects and the answers that have a dedicated branch.
func NodeMarkdown(n domain.Node, hints []string) string {
	var sb strings.Builder
	switch n.Kind {
	case domain.KindAction:
		sb.WriteString("### Action\n\n")
	case domain.KindTerminal:
		sb.WriteString("### Recommendation\n\n")
	default:
		sb.WriteString("### Question\n\n")
	}
	sb.WriteString(n.Content)
	sb.WriteString("\n\n")

	switch {
	case n.Kind == domain.KindAction:
		sb.WriteString("_Press enter once done._\n")
	case len(hints) > 0:
		quoted := make([]string, len(hints))
		for i, h := range hints {
			quoted[i] = "`" + h + "`"
		}
		fmt.Fprintf(&sb, "Answers: %s\n", strings.Join(quoted, ", "))
	case n.ExpectedInput() == domain.InputNumber:
		sb.WriteString("_Enter a number._\n")
	case n.ExpectedInput() == domain.InputBoolean:
		sb.WriteString("Answers: `true`, `false`\n")
	}
	return sb.String()
}
