package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/76creates/stickers/flexbox"
	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/charmbracelet/lipgloss"
)

const (
	headerHeight = 1
	footerHeight = 1
	inputHeight  = 5 // textarea plus its border
)

// View renders the model
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var baseView string
	switch m.currentView {
	case ViewLogin:
		baseView = m.login.view(m.serverURL, m.width, m.height)
	case ViewConnecting:
		baseView = m.renderConnecting()
	default:
		baseView = m.renderMain()
	}

	// The modal replaces the base view while it is open
	if top := m.modalStack.Top(); top != nil {
		return top.Render(m.width, m.height)
	}
	return baseView
}

// paneWidths splits the width between the server, list and chat panes
func (m Model) paneWidths() (servers, list, chat int) {
	servers = max(16, m.width/6)
	list = max(20, m.width/5)
	chat = max(20, m.width-servers-list)
	return servers, list, chat
}

func (m Model) contentHeight() int {
	return max(inputHeight+3, m.height-headerHeight-footerHeight)
}

// resize fits the viewport and input to the chat pane
func (m *Model) resize() {
	_, _, chat := m.paneWidths()
	inner := chat - 2
	m.input.SetWidth(max(10, inner-4))
	m.messageViewport.Width = inner
	m.messageViewport.Height = max(1, m.contentHeight()-2-inputHeight)
	m.help.Width = m.width
	m.renderMessages()
}

func (m Model) renderConnecting() string {
	text := lipgloss.JoinVertical(
		lipgloss.Center,
		HeaderStyle.Render("Chorus"),
		MutedStyle.Render("Connecting to "+m.serverURL+"..."),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, text)
}

// renderMain renders the three pane layout using flexbox for stable sizing
func (m Model) renderMain() string {
	height := m.contentHeight()
	serversWidth, listWidth, chatWidth := m.paneWidths()
	layout := flexbox.NewHorizontal(m.width, height)

	serverCol := layout.NewColumn().AddCells(
		flexbox.NewCell(1, 1).
			SetStyle(m.paneStyle(PaneServers).Width(serversWidth - 2).Height(height - 2)).
			SetContent(m.buildServerPane(serversWidth - 2)),
	)
	listCol := layout.NewColumn().AddCells(
		flexbox.NewCell(1, 1).
			SetStyle(m.paneStyle(PaneList).Width(listWidth - 2).Height(height - 2)).
			SetContent(m.buildListPane(listWidth - 2)),
	)
	chatCol := layout.NewColumn().AddCells(
		flexbox.NewCell(3, 1).
			SetStyle(m.paneStyle(PaneMessages).Width(chatWidth - 2).Height(height - 2)).
			SetContent(m.buildChatPane()),
	)
	layout.AddColumns([]*flexbox.Column{serverCol, listCol, chatCol})

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		layout.Render(),
		m.renderFooter(),
	)
}

func (m Model) paneStyle(p Pane) lipgloss.Style {
	if m.focus == p || (p == PaneMessages && m.focus == PaneInput) {
		return FocusedPaneStyle
	}
	return PaneStyle
}

func (m Model) renderHeader() string {
	title := "Chorus"
	if m.session != nil {
		title += " · " + m.session.Username
	}
	if where := m.conversationTitle(); where != "" {
		title += " · " + where
	}
	return HeaderStyle.Width(m.width).Render(truncateString(title, m.width-2))
}

// conversationTitle describes where the selector is
func (m Model) conversationTitle() string {
	switch m.view.Kind {
	case client.ServerSelected:
		if srv, ok := m.activeServer(); ok {
			return srv.Name
		}
	case client.ChannelSelected:
		name := "#" + m.view.ChannelID
		if ch, ok := m.activeChannel(); ok {
			name = "#" + ch.Name
		}
		if srv, ok := m.activeServer(); ok {
			return srv.Name + " " + name
		}
		return name
	case client.DMSelected:
		if p, ok := m.activePeer(); ok {
			return "@" + p.Username
		}
		return "Direct message"
	case client.Home:
		return "Direct Messages"
	}
	return ""
}

func (m Model) renderFooter() string {
	var parts []string
	if m.statusMessage != "" {
		parts = append(parts, SuccessStyle.Render(m.statusMessage))
	}
	if m.core != nil {
		if list := m.core.Notices.List(); len(list) > 0 {
			latest := list[len(list)-1]
			style := ErrorStyle
			if latest.Kind == client.ValidationFailure {
				style = WarningStyle
			}
			text := latest.Text
			if len(list) > 1 {
				text = fmt.Sprintf("%s (+%d)", text, len(list)-1)
			}
			parts = append(parts, style.Render(text+" [ctrl+x]"))
		}
	}
	parts = append(parts, m.help.ShortHelpView(m.keys.ShortHelp()))

	content := lipgloss.NewStyle().MaxWidth(max(1, m.width-2)).Render(strings.Join(parts, "  "))
	return FooterStyle.Render(content)
}

func (m Model) buildServerPane(width int) string {
	lines := []string{PaneTitleStyle.Render("Servers"), ""}
	entries := []string{"⌂ Home"}
	for _, srv := range m.servers {
		entries = append(entries, srv.Name)
	}
	for i, name := range entries {
		lines = append(lines, m.listItem(truncateString(name, width-2), i == m.serverCursor, m.isActiveServerEntry(i)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) isActiveServerEntry(i int) bool {
	if i == 0 {
		return m.view.Kind == client.Home || m.view.Kind == client.DMSelected
	}
	return m.servers[i-1].ID == m.view.ServerID
}

func (m Model) buildListPane(width int) string {
	if m.serverCursor == 0 {
		lines := []string{PaneTitleStyle.Render("Direct Messages"), ""}
		if len(m.peers) == 0 {
			lines = append(lines, MutedStyle.Render("No conversations yet."), MutedStyle.Render("[ctrl+d] to start one"))
		}
		for i, p := range m.peers {
			lines = append(lines, m.listItem("@"+truncateString(p.Username, width-3), i == m.listCursor, p.ID == m.view.PeerID))
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{PaneTitleStyle.Render("Channels"), ""}
	if len(m.channels) == 0 {
		lines = append(lines, MutedStyle.Render("Loading..."))
	}
	for i, ch := range m.channels {
		prefix := "# "
		if ch.Type != protocol.ChannelTypeText {
			prefix = "♪ "
		}
		lines = append(lines, m.listItem(prefix+truncateString(ch.Name, width-4), i == m.listCursor, ch.ID == m.view.ChannelID))
	}
	return strings.Join(lines, "\n")
}

// listItem renders one sidebar entry. The cursor shows only in the focused pane.
func (m Model) listItem(text string, cursor, active bool) string {
	switch {
	case cursor:
		return SelectedItemStyle.Render("› " + text)
	case active:
		return ActiveItemStyle.Render("  " + text)
	default:
		return ItemStyle.Render("  " + text)
	}
}

func (m Model) buildChatPane() string {
	var body string
	if _, ok := m.view.Key(); ok {
		body = m.messageViewport.View()
	} else {
		hint := "Select a channel or a direct message."
		if m.view.Kind == client.ServerSelected {
			hint = "This server has no text channel."
		}
		body = lipgloss.Place(m.messageViewport.Width, m.messageViewport.Height, lipgloss.Center, lipgloss.Center,
			MutedStyle.Render(hint+"\n[?] for help"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.input.View())
}

// renderMessages rebuilds the viewport content from the message snapshot
func (m *Model) renderMessages() {
	if len(m.messages) == 0 {
		m.messageViewport.SetContent(MutedStyle.Render("No messages yet. Say hello!"))
		return
	}
	now := time.Now()
	width := max(10, m.messageViewport.Width)
	lines := make([]string, 0, len(m.messages))
	for i, msg := range m.messages {
		selected := m.focus == PaneMessages && i == m.messageCursor
		lines = append(lines, m.formatMessage(msg, selected, width, now))
	}
	m.messageViewport.SetContent(strings.Join(lines, "\n"))
}

func (m Model) formatMessage(msg client.Message, selected bool, width int, now time.Time) string {
	authorStyle := AuthorStyle
	if m.isOwnMessage(msg) {
		authorStyle = OwnAuthorStyle
	}
	prefix := "  "
	if selected {
		prefix = SelectedItemStyle.Render("› ")
	}

	head := prefix + TimestampStyle.Render(formatTimestamp(msg.CreatedAt, now)) + " " + authorStyle.Render(msg.AuthorName())
	var content string
	switch {
	case msg.IsDeleted:
		content = DeletedStyle.Render("[message deleted]")
	case msg.IsEdited:
		content = msg.Content + MutedStyle.Render(" (edited)")
	default:
		content = msg.Content
	}
	body := lipgloss.NewStyle().PaddingLeft(4).Width(width).Render(content)
	return head + "\n" + body
}

// formatTimestamp renders a Unix millisecond time as a clock time, with the
// date when it is not today
func formatTimestamp(ms int64, now time.Time) string {
	t := time.UnixMilli(ms).In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	if y1 == y2 {
		return t.Format("Jan 02 15:04")
	}
	return t.Format("2006-01-02 15:04")
}

// truncateString cuts s to maxLen display columns, ending in an ellipsis
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
