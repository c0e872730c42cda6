package modal

import (
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxVisiblePeers = 10

// StartDMModal picks a user to open a direct conversation with. The
// candidates are people the user has talked to or seen in a channel.
type StartDMModal struct {
	users         []protocol.Profile
	filteredUsers []protocol.Profile
	selectedIndex int
	searchQuery   string
	selfID        string
	onSelectUser  func(user protocol.Profile) tea.Cmd
}

// NewStartDMModal creates a new start DM modal
func NewStartDMModal(users []protocol.Profile, selfID string, onSelectUser func(user protocol.Profile) tea.Cmd) *StartDMModal {
	m := &StartDMModal{
		users:        users,
		selfID:       selfID,
		onSelectUser: onSelectUser,
	}
	m.filterUsers()
	return m
}

func (m *StartDMModal) Type() ModalType {
	return ModalStartDM
}

// Filtered returns the users matching the current search
func (m *StartDMModal) Filtered() []protocol.Profile {
	return m.filteredUsers
}

func (m *StartDMModal) filterUsers() {
	m.filteredUsers = m.filteredUsers[:0]
	query := strings.ToLower(m.searchQuery)
	for _, user := range m.users {
		if user.ID == m.selfID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(user.Username), query) {
			continue
		}
		m.filteredUsers = append(m.filteredUsers, user)
	}
	if m.selectedIndex >= len(m.filteredUsers) {
		m.selectedIndex = max(0, len(m.filteredUsers)-1)
	}
}

func (m *StartDMModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		return true, nil, nil

	case "up", "ctrl+p":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
		return true, m, nil

	case "down", "ctrl+n":
		if m.selectedIndex < len(m.filteredUsers)-1 {
			m.selectedIndex++
		}
		return true, m, nil

	case "enter":
		if len(m.filteredUsers) > 0 && m.onSelectUser != nil {
			return true, nil, m.onSelectUser(m.filteredUsers[m.selectedIndex])
		}
		return true, m, nil

	case "backspace":
		if len(m.searchQuery) > 0 {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:len(runes)-1])
			m.filterUsers()
		}
		return true, m, nil
	}

	if msg.Type == tea.KeyRunes {
		m.searchQuery += string(msg.Runes)
		m.filterUsers()
	}
	return true, m, nil
}

func (m *StartDMModal) Render(width, height int) string {
	searchStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("170")).
		Padding(0, 1).
		Width(46)

	var searchDisplay string
	if m.searchQuery == "" {
		searchDisplay = "█" + hintStyle.Render(" Type to search...")
	} else {
		searchDisplay = m.searchQuery + "█"
	}

	var userLines []string
	if len(m.filteredUsers) == 0 {
		if m.searchQuery == "" {
			userLines = append(userLines, hintStyle.Render("Nobody to message yet. Say hi in a channel first."))
		} else {
			userLines = append(userLines, hintStyle.Render("No users match your search"))
		}
	} else {
		start := 0
		if len(m.filteredUsers) > maxVisiblePeers {
			start = min(max(0, m.selectedIndex-maxVisiblePeers/2), len(m.filteredUsers)-maxVisiblePeers)
		}
		end := min(start+maxVisiblePeers, len(m.filteredUsers))

		for i := start; i < end; i++ {
			if i == m.selectedIndex {
				userLines = append(userLines, "> "+selectedStyle.Render(m.filteredUsers[i].Username))
			} else {
				userLines = append(userLines, "  "+optionStyle.Render(m.filteredUsers[i].Username))
			}
		}
		if start > 0 {
			userLines = append([]string{hintStyle.Render("  ↑ more users above")}, userLines...)
		}
		if end < len(m.filteredUsers) {
			userLines = append(userLines, hintStyle.Render("  ↓ more users below"))
		}
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Start Direct Message"),
		searchStyle.Render(searchDisplay),
		"",
		lipgloss.JoinVertical(lipgloss.Left, userLines...),
		"",
		hintStyle.Render("[↑/↓] Navigate  [Enter] Start DM  [Esc] Cancel"),
	)

	modal := boxStyle.Width(54).Render(content)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}

func (m *StartDMModal) IsBlockingInput() bool {
	return true
}
