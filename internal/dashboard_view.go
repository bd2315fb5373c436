package internal

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"studyhub/internal/presence"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	boxStyle           = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 2).MarginTop(1)
	boxTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	statLabelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(8)
	statValueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	roleStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	hintStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const visibleLogLines = 8

func (model DashboardModel) View() string {
	header := lipgloss.JoinVertical(lipgloss.Left,
		appTitleStyle.Render("StudyHub presence"),
		subtitleStyle.Render(model.socketURL),
	)
	panels := lipgloss.JoinHorizontal(lipgloss.Top, model.renderStatistics(), "  ", model.renderUsers())

	sections := []string{
		header,
		model.renderStatus(),
		panels,
		model.renderLog(),
		inputBoxStyle.Render(model.input.View()),
		hintStyle.Render("Enter) join as user  •  Esc) quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model DashboardModel) renderStatus() string {
	switch {
	case model.connected && model.joinedAs != "":
		return connectedStyle.Render("● Connected as " + model.joinedAs)
	case model.connected:
		return connectedStyle.Render("● Connected (watching)")
	case model.connErr != nil:
		return errorStyle.Render(fmt.Sprintf("✖ %v, retrying…", model.connErr))
	default:
		return connectingStyle.Render("Connecting…")
	}
}

func (model DashboardModel) renderStatistics() string {
	rec := model.statistics
	rows := []string{
		boxTitleStyle.Render("Visits"),
		statRow("today", rec.Today.Total),
		statRow("week", rec.Week),
		statRow("month", rec.Month),
		statRow("total", rec.Total),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func statRow(label string, value int64) string {
	return lipgloss.JoinHorizontal(lipgloss.Left, statLabelStyle.Render(label), statValueStyle.Render(fmt.Sprintf("%d", value)))
}

func (model DashboardModel) renderUsers() string {
	rows := []string{boxTitleStyle.Render(fmt.Sprintf("Online (%d)", len(model.users)))}
	if len(model.users) == 0 {
		rows = append(rows, roleStyle.Render("nobody yet"))
	}
	for _, u := range model.users {
		rows = append(rows, renderUser(u))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderUser(u presence.User) string {
	name := usernameStyle.Copy().Foreground(colorForUser(u.ID)).Render(displayName(u))
	var details []string
	if u.UserCode != "" {
		details = append(details, u.UserCode)
	}
	if u.Role != "" {
		details = append(details, u.Role)
	}
	if len(details) == 0 {
		return name
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, name, " ", roleStyle.Render(strings.Join(details, " · ")))
}

func (model DashboardModel) renderLog() string {
	start := 0
	if len(model.log) > visibleLogLines {
		start = len(model.log) - visibleLogLines
	}
	lines := make([]string, 0, visibleLogLines)
	for _, line := range model.log[start:] {
		timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.at.Format("15:04:05")))
		text := line.text
		if line.system {
			text = systemMessageStyle.Render(text)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", text))
	}
	if len(lines) == 0 {
		lines = append(lines, roleStyle.Render("no activity yet"))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func colorForUser(id string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id))
	return userColorPalette[hasher.Sum32()%uint32(len(userColorPalette))]
}
