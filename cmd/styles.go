package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B")).
			Bold(true)
)

// renderTable draws name/value rows sorted by name under a title
func renderTable(title string, rows map[string]string) string {
	names := make([]string, 0, len(rows))
	width := 0
	for name := range rows {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(keyStyle.Render(fmt.Sprintf("%-*s", width, name)))
		b.WriteString("  ")
		b.WriteString(valueStyle.Render(rows[name]))
	}
	if len(names) == 0 {
		b.WriteString(valueStyle.Render("(none)"))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(b.String()),
	)
}

// renderCounters formats counter values for renderTable
func renderCounters(title string, counters map[string]int64) string {
	rows := make(map[string]string, len(counters))
	for name, value := range counters {
		rows[name] = fmt.Sprintf("%d", value)
	}
	return renderTable(title, rows)
}
