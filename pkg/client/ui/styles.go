package ui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor = lipgloss.Color("205")
	AccentColor  = lipgloss.Color("170")
	MutedColor   = lipgloss.Color("240")
	TextColor    = lipgloss.Color("252")
	SuccessColor = lipgloss.Color("46")
	WarningColor = lipgloss.Color("214")
	ErrorColor   = lipgloss.Color("#FF5555")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	PaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor)

	FocusedPaneStyle = PaneStyle.
				BorderForeground(PrimaryColor)

	PaneTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)

	SelectedItemStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(PrimaryColor)

	ActiveItemStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	ItemStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	AuthorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)

	OwnAuthorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	DeletedStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	LoginBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(1, 3)
)
