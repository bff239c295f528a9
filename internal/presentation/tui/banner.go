package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the CareTree banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"   ___              _____              ", "#34d399"},
		{"  / __|__ _ _ _ ___|_   _| _ ___ ___   ", "#2dd4bf"},
		{" | (__/ _` | '_/ -_) | || '_/ -_) -_)  ", "#22d3ee"},
		{"  \\___\\__,_|_| \\___| |_||_| \\___\\___|  ", "#38bdf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  triage protocols, "+version).Faint())
	fmt.Fprintln(w)
}
