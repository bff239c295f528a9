package tui

import (
	"os"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var priorityColors = map[domain.Priority]string{
	domain.PriorityEmergency: "#ef4444",
	domain.PriorityHigh:      "#f97316",
	domain.PriorityMedium:    "#eab308",
	domain.PriorityLow:       "#22c55e",
	domain.PriorityPending:   "#9ca3af",
}

// Priority renders a priority label in its triage colour.
func Priority(p domain.Priority) string {
	profile := termenv.ColorProfile()
	s := termenv.String(" " + string(p) + " ").Bold()
	if c, ok := priorityColors[p]; ok {
		s = s.Background(profile.Color(c)).Foreground(profile.Color("#000000"))
	}
	return s.String()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
