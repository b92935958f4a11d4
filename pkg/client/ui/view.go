package ui

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	PrimaryColor = lipgloss.Color("205")
	MutedColor   = lipgloss.Color("241")
	ErrorColor   = lipgloss.Color("196")
	SelfColor    = lipgloss.Color("39")

	// Sender names are coloured by a hash of the name
	nameColors = []lipgloss.Color{"81", "114", "177", "215", "221", "147", "210", "156"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(PrimaryColor).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	timeStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	serverStyle = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(ErrorColor)
	selfStyle   = lipgloss.NewStyle().Foreground(SelfColor).Bold(true)
	bodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(MutedColor)
)

// View renders the UI
func (m Model) View() string {
	// Don't render until we have dimensions
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		inputStyle.Width(m.width).Render(m.input.View()),
	)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("TCPChat")

	status := fmt.Sprintf("%s as %s (%s)", m.conn.Addr(), m.username, m.conn.ConnectionType())
	if m.connectionState == StateDisconnected {
		status = errorStyle.Render("disconnected")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, title, statusStyle.Render(status)) + "\n"
}

func (m Model) renderTranscript() string {
	lines := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		lines = append(lines, m.renderLine(line))
	}
	return strings.Join(lines, "\n")
}

// renderLine formats one transcript entry as "15:04 user: text", wrapped to
// the viewport width
func (m Model) renderLine(line chatLine) string {
	stamp := timeStyle.Render(line.at.Format("15:04"))

	var rendered string
	switch line.kind {
	case lineServer:
		rendered = serverStyle.Render("* " + line.text)
	case lineError:
		rendered = errorStyle.Render("! " + line.text)
	case lineSelf:
		rendered = selfStyle.Render(line.user+":") + " " + bodyStyle.Render(line.text)
	default:
		rendered = nameStyle(line.user).Render(line.user+":") + " " + bodyStyle.Render(line.text)
	}

	out := stamp + " " + rendered
	if m.viewport.Width > 0 {
		out = lipgloss.NewStyle().Width(m.viewport.Width).Render(out)
	}
	return out
}

func nameStyle(name string) lipgloss.Style {
	h := fnv.New32a()
	h.Write([]byte(name))
	color := nameColors[h.Sum32()%uint32(len(nameColors))]
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}
