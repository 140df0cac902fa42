// Package styles holds the lipgloss styles shared by the ordermesh commands.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Color palette
var (
	Primary      = lipgloss.Color("#0EA5E9") // Sky
	PrimaryLight = lipgloss.Color("#7DD3FC")
	Success      = lipgloss.Color("#10B981")
	Warning      = lipgloss.Color("#F59E0B")
	Error        = lipgloss.Color("#EF4444")
	Info         = lipgloss.Color("#3B82F6")
	Text         = lipgloss.Color("#F9FAFB")
	TextMuted    = lipgloss.Color("#9CA3AF")
	Surface      = lipgloss.Color("#1F2937")
	Border       = lipgloss.Color("#374151")
)

// Text styles. They are built on demand so DisableColors takes effect.
var (
	Title     = func() lipgloss.Style { return lipgloss.NewStyle().Bold(true).Foreground(Primary) }
	Muted     = func() lipgloss.Style { return lipgloss.NewStyle().Foreground(TextMuted) }
	Highlight = func() lipgloss.Style { return lipgloss.NewStyle().Bold(true).Foreground(PrimaryLight) }
	Code      = func() lipgloss.Style {
		return lipgloss.NewStyle().Foreground(Warning).Background(Surface).Padding(0, 1)
	}
	Box = func() lipgloss.Style {
		return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Border).Padding(1, 2)
	}
)

// Icons
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconPending = "◌"
)

func icon(color lipgloss.Color, s string) string {
	return lipgloss.NewStyle().Foreground(color).Render(s)
}

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return icon(Success, IconSuccess) + " " + msg
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return icon(Error, IconError) + " " + msg
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return icon(Warning, IconWarning) + " " + msg
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return icon(Info, IconInfo) + " " + msg
}

// FormatStep formats a step in a process
func FormatStep(step, total int, msg string) string {
	return Muted().Width(8).Render(fmt.Sprintf("[%d/%d]", step, total)) + " " + msg
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	return Muted().Width(20).Render(key+":") + " " + Highlight().Render(value)
}

// Banner is the one-line product banner.
func Banner() string {
	return Title().Render("ordermesh") + " " + Muted().Render("event-sourced aggregates and CDC routing")
}

// NewTable returns a bordered table with the given headers.
func NewTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Border)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(Primary).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

// DisableColors disables all colors for terminals that don't support them
func DisableColors() {
	Primary = lipgloss.Color("")
	PrimaryLight = lipgloss.Color("")
	Success = lipgloss.Color("")
	Warning = lipgloss.Color("")
	Error = lipgloss.Color("")
	Info = lipgloss.Color("")
	Text = lipgloss.Color("")
	TextMuted = lipgloss.Color("")
	Surface = lipgloss.Color("")
	Border = lipgloss.Color("")
}
