package modal

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HelpModal lists every key binding in columns
type HelpModal struct {
	groups [][]key.Binding
	help   help.Model
}

// NewHelpModal creates a help modal. Each group renders as one column.
func NewHelpModal(groups [][]key.Binding) *HelpModal {
	h := help.New()
	h.ShowAll = true
	return &HelpModal{groups: groups, help: h}
}

func (m *HelpModal) Type() ModalType {
	return ModalHelp
}

func (m *HelpModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "esc", "?", "q", "enter":
		return true, nil, nil
	}
	return true, m, nil
}

func (m *HelpModal) Render(width, height int) string {
	m.help.Width = max(20, width-12)
	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.FullHelpView(m.groups),
		"",
		hintStyle.Render("[Esc] Close"),
	)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, boxStyle.Render(content))
}

func (m *HelpModal) IsBlockingInput() bool {
	return true
}
