package modal

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputModal asks for one line of text: a server name, an invite code or a
// report reason.
type InputModal struct {
	kind         ModalType
	title        string
	description  string
	input        textinput.Model
	errorMessage string
	onSubmit     func(value string) tea.Cmd
}

// NewInputModal creates a single field dialog. Blank input is refused
// before onSubmit runs.
func NewInputModal(kind ModalType, title, description, placeholder string, charLimit int, onSubmit func(string) tea.Cmd) *InputModal {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = charLimit
	ti.Width = 40
	ti.Prompt = "› "
	ti.Focus()

	return &InputModal{
		kind:        kind,
		title:       title,
		description: description,
		input:       ti,
		onSubmit:    onSubmit,
	}
}

// NewCreateServerModal asks for the name of a new server
func NewCreateServerModal(onSubmit func(name string) tea.Cmd) *InputModal {
	return NewInputModal(ModalCreateServer, "Create Server",
		"You will own the server. A #general channel is created for you.",
		"My server", 100, onSubmit)
}

// NewJoinServerModal asks for an invite code
func NewJoinServerModal(onSubmit func(code string) tea.Cmd) *InputModal {
	return NewInputModal(ModalJoinServer, "Join Server",
		"Paste the invite code you were given.",
		"invite code", 32, onSubmit)
}

// NewReportModal asks why a message is being reported
func NewReportModal(author, excerpt string, onSubmit func(reason string) tea.Cmd) *InputModal {
	return NewInputModal(ModalReport, "Report Message",
		author+": "+excerpt,
		"reason", 500, onSubmit)
}

func (m *InputModal) Type() ModalType {
	return m.kind
}

// Value returns the current input
func (m *InputModal) Value() string {
	return m.input.Value()
}

// Error returns the validation message being shown
func (m *InputModal) Error() string {
	return m.errorMessage
}

func (m *InputModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return true, nil, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			m.errorMessage = "A value is required"
			return true, m, nil
		}
		var cmd tea.Cmd
		if m.onSubmit != nil {
			cmd = m.onSubmit(value)
		}
		return true, nil, cmd
	}

	m.errorMessage = ""
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return true, m, cmd
}

// Update forwards non-key messages so the cursor keeps blinking
func (m *InputModal) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(tea.KeyMsg); ok {
		return nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *InputModal) Render(width, height int) string {
	lines := []string{
		titleStyle.Render(m.title),
		optionStyle.Width(46).Render(m.description),
		"",
		m.input.View(),
	}
	if m.errorMessage != "" {
		lines = append(lines, "", errorTextStyle.Render(m.errorMessage))
	}
	lines = append(lines, "", hintStyle.Render("[Enter] Confirm  [Esc] Cancel"))

	box := boxStyle.Width(54).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

func (m *InputModal) IsBlockingInput() bool {
	return true
}
