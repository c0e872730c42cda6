package modal

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConnectionFailedRetryMsg is sent when user wants to retry connection
type ConnectionFailedRetryMsg struct{}

// ConnectionFailedSignOutMsg is sent when user wants to drop the saved
// session and sign in again
type ConnectionFailedSignOutMsg struct{}

type connectionOption struct {
	label string
	key   string
	cmd   tea.Cmd
}

var connectionOptions = []connectionOption{
	{"Retry connection", "R", func() tea.Msg { return ConnectionFailedRetryMsg{} }},
	{"Sign out", "S", func() tea.Msg { return ConnectionFailedSignOutMsg{} }},
	{"Quit", "Q", tea.Quit},
}

// ConnectionFailedModal is shown when the backend or its change feed cannot
// be reached
type ConnectionFailedModal struct {
	serverURL    string
	errorMessage string
	cursor       int
}

// NewConnectionFailedModal creates a new connection failed modal
func NewConnectionFailedModal(serverURL, errorMessage string) *ConnectionFailedModal {
	return &ConnectionFailedModal{serverURL: serverURL, errorMessage: errorMessage}
}

func (m *ConnectionFailedModal) Type() ModalType {
	return ModalConnectionFailed
}

func (m *ConnectionFailedModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return true, m, nil
	case "down", "j":
		if m.cursor < len(connectionOptions)-1 {
			m.cursor++
		}
		return true, m, nil
	case "r":
		return true, nil, connectionOptions[0].cmd
	case "s":
		return true, nil, connectionOptions[1].cmd
	case "q":
		return true, nil, tea.Quit
	case "enter":
		return true, nil, connectionOptions[m.cursor].cmd
	case "esc":
		return true, nil, nil
	}
	return false, m, nil
}

func (m *ConnectionFailedModal) Render(width, height int) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(errorColor).Render("⚠ Connection Failed"))
	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render("Server: " + m.serverURL))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(errorColor).Render("Error: " + m.errorMessage))
	b.WriteString("\n\n")

	for i, opt := range connectionOptions {
		label := "  " + opt.label
		style := optionStyle
		if i == m.cursor {
			label = "→ " + opt.label
			style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
		}
		b.WriteString(style.Render(label) + " " + hintStyle.Render("["+opt.key+"]") + "\n")
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("[↑/↓] Navigate  [Enter] Select  [Esc] Dismiss"))

	modalWidth := 60
	if width < modalWidth+4 {
		modalWidth = width - 4
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(errorColor).
		Padding(1, 2).
		Width(modalWidth - 4).
		Render(b.String())

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

// IsBlockingInput returns false so the cached conversation stays browsable
func (m *ConnectionFailedModal) IsBlockingInput() bool {
	return false
}
