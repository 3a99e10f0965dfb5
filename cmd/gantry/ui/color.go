package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ConfigureColor pins lipgloss to the terminal's real color profile,
// or to plain ASCII when color output would be noise. Called once from
// the root command before any rendering; there is no per-call state to
// track afterwards, the profile is global.
//
// Color is off when any of these hold, checked in order:
//   - the --no-color flag,
//   - the NO_COLOR convention (any non-empty value),
//   - a CI environment,
//   - TERM=dumb,
//   - stderr is not a terminal (output is being piped or captured).
func ConfigureColor(noColor bool) {
	if colorCapable(noColor) {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func colorCapable(noColor bool) bool {
	switch {
	case noColor:
		return false
	case os.Getenv("NO_COLOR") != "":
		return false
	case isTruthy(os.Getenv("CI")):
		return false
	case strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb"):
		return false
	}
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func isTruthy(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
