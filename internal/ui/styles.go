package ui

import (
	"fmt"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorLow    = 114 // green
	colorMedium = 221 // yellow
	colorHigh   = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderSeverity returns the severity name colored by how urgent it is.
// Unknown severities are returned unstyled.
func RenderSeverity(sev model.Severity) string {
	switch sev {
	case model.SeverityLow:
		return render(colorLow, string(sev))
	case model.SeverityMedium:
		return render(colorMedium, string(sev))
	case model.SeverityHigh:
		return render(colorHigh, string(sev))
	}
	return string(sev)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor turns color output on or off.
func SetColor(on bool) {
	noColor = !on
}
