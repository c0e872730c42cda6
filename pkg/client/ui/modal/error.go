package modal

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errorColor = lipgloss.Color("#FF5555")

// ErrorModal shows a failure that must be acknowledged. Closing it runs
// onClose, which the model uses to dismiss the backing notice.
type ErrorModal struct {
	title   string
	message string
	onClose func() tea.Cmd
}

// NewErrorModal creates a new error modal
func NewErrorModal(title, message string, onClose func() tea.Cmd) *ErrorModal {
	return &ErrorModal{
		title:   title,
		message: message,
		onClose: onClose,
	}
}

func (m *ErrorModal) Type() ModalType {
	return ModalError
}

// Message returns the text being shown
func (m *ErrorModal) Message() string {
	return m.message
}

func (m *ErrorModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc", " ":
		var cmd tea.Cmd
		if m.onClose != nil {
			cmd = m.onClose()
		}
		return true, nil, cmd
	}
	return true, m, nil
}

func (m *ErrorModal) Render(width, height int) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(errorColor)

	messageStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	modalWidth := 50
	if width < modalWidth+4 {
		modalWidth = width - 4
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(m.title),
		"",
		messageStyle.Width(modalWidth-8).Render(m.message),
		"",
		hintStyle.Render("Press Enter or Esc to dismiss"),
	)

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(errorColor).
		Padding(1, 2).
		Width(modalWidth - 4).
		Render(content)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

func (m *ErrorModal) IsBlockingInput() bool {
	return true
}
