package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette: slate with emerald accents.
const (
	colorAccent    = lipgloss.Color("#00b894")
	colorSecondary = lipgloss.Color("#b2bec3")
	colorError     = lipgloss.Color("#d63031")
	colorWarning   = lipgloss.Color("#fdcb6e")
	colorInfo      = lipgloss.Color("#74b9ff")
	colorTool      = lipgloss.Color("#81ecec")
	colorPath      = lipgloss.Color("#dfe6e9")
)

// theme holds styles bound to one output's color profile.
type theme struct {
	accent  lipgloss.Style
	muted   lipgloss.Style
	errorS  lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	heading lipgloss.Style
	tool    lipgloss.Style
	path    lipgloss.Style

	panel func(border lipgloss.Color) lipgloss.Style
}

func newTheme(out io.Writer) theme {
	r := lipgloss.NewRenderer(out)
	return theme{
		accent:  r.NewStyle().Foreground(colorAccent),
		muted:   r.NewStyle().Foreground(colorSecondary),
		errorS:  r.NewStyle().Foreground(colorError).Bold(true),
		warning: r.NewStyle().Foreground(colorWarning),
		info:    r.NewStyle().Foreground(colorInfo),
		heading: r.NewStyle().Foreground(colorAccent).Bold(true),
		tool:    r.NewStyle().Foreground(colorTool).Bold(true),
		path:    r.NewStyle().Foreground(colorPath).Italic(true),
		panel: func(border lipgloss.Color) lipgloss.Style {
			return r.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(border).
				Padding(0, 1)
		},
	}
}
