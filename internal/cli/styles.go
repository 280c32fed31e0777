package cli

import "github.com/charmbracelet/lipgloss"

// Version is the application version
const Version = "0.1.0"

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	matchStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Success renders a success line
func Success(s string) string { return successStyle.Render("✅ " + s) }

// Failure renders an error line
func Failure(s string) string { return errorStyle.Render("❌ " + s) }

// Warning renders a warning line
func Warning(s string) string { return warnStyle.Render("⚠️  " + s) }

// Muted renders secondary text
func Muted(s string) string { return mutedStyle.Render(s) }

// Title renders a section title
func Title(s string) string { return titleStyle.Render(s) }
