package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/client/ui/modal"
	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		m.lastInteractionTime = time.Now()
		return m.handleKeyPress(msg)

	case authResultMsg:
		return m.handleAuthResult(msg)

	case connectedMsg:
		m.modalStack.RemoveByType(modal.ModalConnectionFailed)
		m.currentView = ViewMain
		m.focus = PaneServers
		m.logger.Infow("connected", "user", msg.session.Username)
		cmd := m.attach(msg.session, msg.core)
		return m, cmd

	case connectFailedMsg:
		return m.handleConnectFailed(msg)

	case disconnectedMsg:
		if msg.core != m.core || m.core == nil {
			return m, nil
		}
		m.logger.Warnw("change feed disconnected")
		m.modalStack.Push(modal.NewConnectionFailedModal(m.serverURL, "The realtime connection was lost"))
		return m, nil

	case modal.ConnectionFailedRetryMsg:
		m.detach()
		m.currentView = ViewConnecting
		return m, m.connectCmd(m.session)

	case modal.ConnectionFailedSignOutMsg:
		return m.signOut()

	case selectorChangedMsg:
		if m.changes == nil {
			return m, nil
		}
		cmd := m.refreshFromSelector()
		return m, tea.Batch(cmd, waitForChange(m.changes, m.released))

	case noticeMsg:
		if m.core == nil {
			return m, nil
		}
		if msg.notice.Kind == client.AuthorizationFailure {
			id := msg.notice.ID
			notices := m.core.Notices
			m.modalStack.Push(modal.NewErrorModal("Not allowed", msg.notice.Text, func() tea.Cmd {
				notices.Dismiss(id)
				return nil
			}))
		}
		return m, waitForNotice(m.notices)

	case serversLoadedMsg:
		return m.handleServersLoaded(msg)

	case channelsLoadedMsg:
		if srv, ok := m.selectedServer(); ok && srv.ID == msg.serverID {
			m.channels = msg.channels
			m.listCursor = 0
			for i, ch := range m.channels {
				if ch.ID == m.view.ChannelID {
					m.listCursor = i
				}
			}
		}
		return m, nil

	case peersLoadedMsg:
		m.peers = msg.peers
		m.listCursor = clamp(m.listCursor, 0, len(m.peers)-1)
		return m, nil

	case dmOpenedMsg:
		m.serverCursor = 0
		m.channels = nil
		found := false
		for i, p := range m.peers {
			if p.ID == msg.peer.ID {
				m.listCursor = i
				found = true
			}
		}
		if !found {
			m.peers = append(m.peers, msg.peer)
			m.listCursor = len(m.peers) - 1
		}
		m.focus = PaneInput
		m.input.Focus()
		return m, nil

	case sentMsg:
		return m, nil

	case statusMsg:
		cmd := m.setStatus(msg.text)
		return m, cmd

	case statusTimeoutMsg:
		if msg.version == m.statusVersion {
			m.statusMessage = ""
		}
		return m, nil
	}

	// Let animated components tick
	var cmds []tea.Cmd
	if top, ok := m.modalStack.Top().(modal.UpdatableModal); ok {
		cmds = append(cmds, top.Update(msg))
	}
	switch m.currentView {
	case ViewLogin:
		cmds = append(cmds, m.login.update(msg))
	case ViewMain:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// handleKeyPress routes a key to the active modal, then the current view
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.Close()
		return m, tea.Quit
	}

	if top := m.modalStack.Top(); top != nil {
		handled, next, cmd := top.HandleKey(msg)
		if handled {
			m.modalStack.Replace(next)
			return m, cmd
		}
		if top.IsBlockingInput() {
			return m, nil
		}
	}

	switch m.currentView {
	case ViewLogin:
		return m.handleLoginKeys(msg)
	case ViewMain:
		return m.handleMainKeys(msg)
	}
	return m, nil
}

func (m Model) handleLoginKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.login.busy {
		return m, nil
	}
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		m.login.toggleField()
		return m, nil
	case "ctrl+s":
		m.login.signUp = !m.login.signUp
		m.login.err = ""
		return m, nil
	case "enter":
		username, password := m.login.credentials()
		if m.login.focused == loginFieldUsername && password == "" {
			m.login.focus(loginFieldPassword)
			return m, nil
		}
		m.login.busy = true
		m.login.err = ""
		return m, m.signInCmd(username, password, m.login.signUp)
	}
	m.login.err = ""
	cmd := m.login.update(msg)
	return m, cmd
}

func (m Model) handleMainKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.NextPane):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil
	case key.Matches(msg, m.keys.PrevPane):
		m.setFocus((m.focus + paneCount - 1) % paneCount)
		return m, nil
	case key.Matches(msg, m.keys.Home):
		m.serverCursor = 0
		m.channels = nil
		m.listCursor = 0
		m.setFocus(PaneList)
		return m, m.goHomeCmd()
	case key.Matches(msg, m.keys.StartDM):
		m.modalStack.Push(modal.NewStartDMModal(m.dmCandidates(), m.session.UserID, func(p protocol.Profile) tea.Cmd {
			return m.selectDMCmd(p)
		}))
		return m, nil
	case key.Matches(msg, m.keys.NewServer):
		m.modalStack.Push(modal.NewCreateServerModal(m.createServerCmd))
		return m, nil
	case key.Matches(msg, m.keys.JoinServer):
		m.modalStack.Push(modal.NewJoinServerModal(m.joinServerCmd))
		return m, nil
	case key.Matches(msg, m.keys.Dismiss):
		if list := m.core.Notices.List(); len(list) > 0 {
			m.core.Notices.Dismiss(list[len(list)-1].ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.Reload):
		return m, m.reloadCmd()
	case key.Matches(msg, m.keys.SignOut):
		return m.signOut()
	}

	switch m.focus {
	case PaneServers:
		return m.handleServerPaneKeys(msg)
	case PaneList:
		return m.handleListPaneKeys(msg)
	case PaneMessages:
		return m.handleMessagePaneKeys(msg)
	default:
		return m.handleInputKeys(msg)
	}
}

func (m Model) handleServerPaneKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Help):
		m.pushHelp()
	case key.Matches(msg, m.keys.Up):
		m.serverCursor = clamp(m.serverCursor-1, 0, len(m.servers))
	case key.Matches(msg, m.keys.Down):
		m.serverCursor = clamp(m.serverCursor+1, 0, len(m.servers))
	case key.Matches(msg, m.keys.Select):
		m.listCursor = 0
		m.channels = nil
		m.setFocus(PaneList)
		if srv, ok := m.selectedServer(); ok {
			return m, m.selectServerCmd(srv.ID)
		}
		return m, m.goHomeCmd()
	}
	return m, nil
}

func (m Model) handleListPaneKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Help):
		m.pushHelp()
	case key.Matches(msg, m.keys.Up):
		m.listCursor = clamp(m.listCursor-1, 0, m.listLen()-1)
	case key.Matches(msg, m.keys.Down):
		m.listCursor = clamp(m.listCursor+1, 0, m.listLen()-1)
	case key.Matches(msg, m.keys.CopyInvite):
		cmd := m.showInvite()
		return m, cmd
	case key.Matches(msg, m.keys.Select):
		if m.listLen() == 0 {
			return m, nil
		}
		if m.serverCursor == 0 {
			return m, m.selectDMCmd(m.peers[m.listCursor])
		}
		srv, _ := m.selectedServer()
		ch := m.channels[m.listCursor]
		if ch.Type != protocol.ChannelTypeText {
			cmd := m.setStatus("Voice channels are listed only")
			return m, cmd
		}
		m.setFocus(PaneInput)
		return m, m.selectChannelCmd(srv.ID, ch.ID)
	}
	return m, nil
}

func (m Model) handleMessagePaneKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Help):
		m.pushHelp()
	case key.Matches(msg, m.keys.Up):
		m.messageCursor = clamp(m.messageCursor-1, 0, len(m.messages)-1)
		m.renderMessages()
	case key.Matches(msg, m.keys.Down):
		m.messageCursor = clamp(m.messageCursor+1, 0, len(m.messages)-1)
		m.renderMessages()
	case key.Matches(msg, m.keys.CopyInvite):
		cmd := m.showInvite()
		return m, cmd
	case key.Matches(msg, m.keys.Report):
		target, ok := m.selectedMessage()
		if !ok || target.IsDeleted {
			return m, nil
		}
		if m.isOwnMessage(target) {
			cmd := m.setStatus("You cannot report your own message")
			return m, cmd
		}
		m.modalStack.Push(modal.NewReportModal(target.AuthorName(), truncateString(target.Content, 60), func(reason string) tea.Cmd {
			return m.reportCmd(target, reason)
		}))
	default:
		var cmd tea.Cmd
		m.messageViewport, cmd = m.messageViewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleInputKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Send) {
		conv, _ := m.view.Key()
		content := m.input.Value()
		m.input.Reset()
		return m, m.sendCmd(conv, content)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setFocus(p Pane) {
	m.focus = p
	if p == PaneInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) pushHelp() {
	m.modalStack.Push(modal.NewHelpModal(m.keys.FullHelp()))
}

func (m *Model) showInvite() tea.Cmd {
	srv, ok := m.activeServer()
	if !ok {
		return nil
	}
	return m.setStatus(fmt.Sprintf("Invite code for %s: %s", srv.Name, srv.InviteCode))
}

func (m Model) handleAuthResult(msg authResultMsg) (tea.Model, tea.Cmd) {
	m.login.busy = false
	if msg.err != nil {
		var f *client.Failure
		if errors.As(msg.err, &f) && f.Err != nil {
			m.login.err = f.Err.Error()
		} else {
			m.login.err = msg.err.Error()
		}
		return m, nil
	}
	if err := m.state.SaveSession(msg.session); err != nil {
		m.logger.Warnw("failed to save session", "error", err)
	}
	if err := m.state.SetLastUsername(msg.session.Username); err != nil {
		m.logger.Warnw("failed to save username", "error", err)
	}
	m.session = msg.session
	m.login.password.Reset()
	m.currentView = ViewConnecting
	return m, m.connectCmd(msg.session)
}

func (m Model) handleConnectFailed(msg connectFailedMsg) (tea.Model, tea.Cmd) {
	m.logger.Warnw("connect failed", "error", msg.err)
	if client.KindOf(msg.err) == client.AuthorizationFailure {
		// The saved token is no good any more
		model, cmd := m.signOut()
		mm := model.(Model)
		mm.login.err = "Your session has expired, please sign in again"
		return mm, cmd
	}
	m.modalStack.Push(modal.NewConnectionFailedModal(m.serverURL, msg.err.Error()))
	return m, nil
}

func (m Model) handleServersLoaded(msg serversLoadedMsg) (tea.Model, tea.Cmd) {
	current, hadSelection := m.selectedServer()
	m.servers = msg.servers
	m.serverCursor = clamp(m.serverCursor, 0, len(m.servers))

	target := msg.selectID
	if target == "" && hadSelection {
		target = current.ID
	}
	for i, srv := range m.servers {
		if srv.ID == target {
			m.serverCursor = i + 1
		}
	}
	if msg.selectID != "" && m.serverCursor > 0 {
		m.channels = nil
		m.listCursor = 0
		m.setFocus(PaneList)
		return m, m.selectServerCmd(msg.selectID)
	}
	return m, nil
}

func (m Model) signOut() (tea.Model, tea.Cmd) {
	m.detach()
	m.modalStack.Clear()
	if err := m.state.ClearSession(); err != nil {
		m.logger.Warnw("failed to clear session", "error", err)
	}
	username := ""
	if m.session != nil {
		username = m.session.Username
	}
	m.session = nil
	m.currentView = ViewLogin
	m.login = newLoginForm(username, m.login.username.CharLimit)
	return m, nil
}

// refreshFromSelector copies the selector's view and messages into the
// model and raises a notification for new messages from others
func (m *Model) refreshFromSelector() tea.Cmd {
	if m.core == nil {
		return nil
	}
	view := m.core.Selector.View()
	msgs := m.core.Selector.Messages()

	var fresh []client.Message
	if view == m.view {
		known := make(map[string]bool, len(m.messages))
		for _, msg := range m.messages {
			known[msg.ID] = true
		}
		for _, msg := range msgs {
			if !known[msg.ID] {
				fresh = append(fresh, msg)
			}
		}
	}
	followTail := m.messageCursor >= len(m.messages)-1
	if view != m.view {
		followTail = true
	}

	m.view = view
	m.messages = msgs
	if followTail {
		m.messageCursor = len(m.messages) - 1
	}
	m.messageCursor = clamp(m.messageCursor, 0, len(m.messages)-1)
	m.renderMessages()
	if followTail {
		m.messageViewport.GotoBottom()
	}

	// History arrives as one batch; live inserts one at a time
	if len(fresh) != 1 || len(msgs) == 1 {
		return nil
	}
	if !m.shouldNotifyForMessage(fresh[0]) {
		return nil
	}
	return m.notifyCmd(fresh[0])
}

// shouldNotifyForMessage checks if a desktop notification is due
func (m Model) shouldNotifyForMessage(msg client.Message) bool {
	if m.isOwnMessage(msg) {
		return false
	}
	return time.Since(m.lastInteractionTime) >= idleBeforeNotify
}

func (m Model) notifyCmd(msg client.Message) tea.Cmd {
	title := "Chorus"
	if ch, ok := m.activeChannel(); ok {
		title = "Chorus - #" + ch.Name
	} else if m.view.Kind == client.DMSelected {
		title = "Chorus - direct message"
	}
	body := fmt.Sprintf("%s: %s", msg.AuthorName(), truncateString(msg.Content, 100))
	notify := m.notify
	logger := m.logger
	return func() tea.Msg {
		if err := notify(title, body); err != nil {
			logger.Debugw("desktop notification failed", "error", err)
		}
		return nil
	}
}

// Commands wrapping blocking core calls

func (m Model) signInCmd(username, password string, signUp bool) tea.Cmd {
	auth := m.auth
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var sess *client.Session
		var err error
		if signUp {
			sess, err = auth.SignUp(ctx, username, password)
		} else {
			sess, err = auth.SignIn(ctx, username, password)
		}
		return authResultMsg{session: sess, err: err}
	}
}

func (m Model) connectCmd(sess *client.Session) tea.Cmd {
	connect := m.connect
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		core, err := connect(ctx, sess)
		if err != nil {
			return connectFailedMsg{session: sess, err: err}
		}
		return connectedMsg{session: sess, core: core}
	}
}

func (m Model) loadServersCmd(selectID string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return serversLoadedMsg{servers: core.Navigator.Servers(ctx), selectID: selectID}
	}
}

func (m Model) goHomeCmd() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		core.Selector.GoHome(ctx)
		return peersLoadedMsg{peers: core.Navigator.DMPeers(ctx)}
	}
}

// selectServerCmd shows a server and opens its first text channel
func (m Model) selectServerCmd(serverID string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := core.Selector.SelectServer(ctx, serverID); err != nil {
			return nil
		}
		channels := core.Navigator.Channels(ctx, serverID)
		if first, ok := client.FirstTextChannel(channels); ok {
			core.Selector.SelectChannel(ctx, serverID, first.ID)
		}
		return channelsLoadedMsg{serverID: serverID, channels: channels}
	}
}

func (m Model) selectChannelCmd(serverID, channelID string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		core.Selector.SelectChannel(ctx, serverID, channelID)
		return nil
	}
}

func (m Model) selectDMCmd(peer protocol.Profile) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		core.Selector.SelectDM(ctx, peer.ID)
		return dmOpenedMsg{peer: peer}
	}
}

func (m Model) sendCmd(key client.ConversationKey, content string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sentMsg{err: core.Sender.Send(ctx, key, content)}
	}
}

func (m Model) createServerCmd(name string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		srv, err := core.Sender.CreateServer(ctx, name)
		if err != nil {
			return nil
		}
		return serversLoadedMsg{servers: core.Navigator.Servers(ctx), selectID: srv.ID}
	}
}

func (m Model) joinServerCmd(code string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		srv, err := core.Sender.JoinServer(ctx, code)
		if err != nil {
			return nil
		}
		return serversLoadedMsg{servers: core.Navigator.Servers(ctx), selectID: srv.ID}
	}
}

func (m Model) reportCmd(target client.Message, reason string) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := core.Sender.ReportMessage(ctx, target, reason); err != nil {
			return nil
		}
		return statusMsg{text: "Report sent to the moderators"}
	}
}

func (m Model) reloadCmd() tea.Cmd {
	core := m.core
	return tea.Batch(
		m.loadServersCmd(""),
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			core.Selector.Reload(ctx)
			return nil
		},
	)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
