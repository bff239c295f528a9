package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestNodeMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		node  domain.Node
		hints []string
		want  []string
	}{
		{"Question with hints", domain.Node{Kind: domain.KindQuestion, Content: "Fever?"}, []string{"Yes", "No"}, []string{"### Question", "Fever?", "`Yes`, `No`"}},
		{"Number input", domain.Node{Kind: domain.KindQuestion, Content: "Temp", Input: domain.InputNumber}, nil, []string{"Enter a number"}},
		{"Boolean input", domain.Node{Kind: domain.KindQuestion, Content: "Breathless?", Input: domain.InputBoolean}, nil, []string{"`true`, `false`"}},
		{"Action", domain.Node{Kind: domain.KindAction, Content: "Check temp"}, []string{"*"}, []string{"### Action", "Press enter"}},
		{"Terminal", domain.Node{Kind: domain.KindTerminal, Content: "High"}, nil, []string{"### Recommendation", "High"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NodeMarkdown(tt.node, tt.hints)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestPriority_KeepsLabel(t *testing.T) {
	assert.Contains(t, Priority(domain.PriorityEmergency), "Emergency")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "1.0.0")
	assert.True(t, strings.Contains(buf.String(), "1.0.0"))
}
