// Package ui is the Chorus terminal client. It renders the client core's
// state with bubbletea and turns key presses into core operations.
package ui

import (
	"context"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/client/ui/modal"
	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// requestTimeout bounds every backend call started from the UI
const requestTimeout = 15 * time.Second

// idleBeforeNotify is how long the user must be idle before incoming
// messages raise a desktop notification
const idleBeforeNotify = 5 * time.Minute

// ViewState represents the current top level view
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewConnecting
	ViewMain
)

// Pane is the focused area of the main view
type Pane int

const (
	PaneServers Pane = iota
	PaneList
	PaneMessages
	PaneInput
	paneCount
)

// Authenticator obtains sessions. client.AuthClient implements it.
type Authenticator interface {
	SignIn(ctx context.Context, username, password string) (*client.Session, error)
	SignUp(ctx context.Context, username, password string) (*client.Session, error)
}

// Connector builds a client core for a session
type Connector func(ctx context.Context, sess *client.Session) (*client.Core, error)

// Notifier raises a desktop notification
type Notifier func(title, body string) error

// Options configures a Model
type Options struct {
	ServerURL         string
	State             client.StateInterface
	Auth              Authenticator
	Connect           Connector
	Logger            *zap.SugaredLogger
	Notify            Notifier
	MaxUsernameLength int
	MaxMessageLength  int
}

// Model represents the application state
type Model struct {
	serverURL string
	state     client.StateInterface
	auth      Authenticator
	connect   Connector
	logger    *zap.SugaredLogger
	notify    Notifier

	// Session and core, set once signed in
	session  *client.Session
	core     *client.Core
	changes  <-chan struct{}
	released <-chan struct{}
	notices  <-chan client.Notice
	release  func()

	currentView ViewState
	login       loginForm
	modalStack  modal.ModalStack
	keys        KeyMap
	help        help.Model

	// Navigation data
	servers      []protocol.Server
	channels     []protocol.Channel
	peers        []protocol.Profile
	serverCursor int // 0 is Home, i+1 is servers[i]
	listCursor   int
	focus        Pane

	// Snapshot of the selector, refreshed on every change
	view          client.View
	messages      []client.Message
	messageCursor int

	// UI state
	width               int
	height              int
	messageViewport     viewport.Model
	input               textarea.Model
	maxMessageLength    int
	statusMessage       string
	statusVersion       uint64
	lastInteractionTime time.Time
}

// NewModel creates the model. A saved, unexpired session skips the login view.
func NewModel(opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Notify == nil {
		opts.Notify = func(title, body string) error {
			return beeep.Notify(title, body, "")
		}
	}
	if opts.MaxUsernameLength <= 0 {
		opts.MaxUsernameLength = 32
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Prompt = ""
	ta.CharLimit = opts.MaxMessageLength
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.FocusedStyle.Base = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Padding(0, 1)
	ta.BlurredStyle.Base = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Padding(0, 1)

	m := Model{
		serverURL:           opts.ServerURL,
		state:               opts.State,
		auth:                opts.Auth,
		connect:             opts.Connect,
		logger:              opts.Logger,
		notify:              opts.Notify,
		currentView:         ViewLogin,
		login:               newLoginForm(opts.State.GetLastUsername(), opts.MaxUsernameLength),
		keys:                DefaultKeyMap(),
		help:                help.New(),
		focus:               PaneServers,
		messageViewport:     viewport.New(80, 20),
		input:               ta,
		maxMessageLength:    opts.MaxMessageLength,
		lastInteractionTime: time.Now(),
	}
	if sess := opts.State.GetSession(); sess != nil {
		m.session = sess
		m.currentView = ViewConnecting
	}
	return m
}

// Init starts the connection when a saved session exists
func (m Model) Init() tea.Cmd {
	if m.currentView == ViewConnecting {
		return m.connectCmd(m.session)
	}
	return textarea.Blink
}

// Messages exchanged between commands and Update

type authResultMsg struct {
	session *client.Session
	err     error
}

type connectedMsg struct {
	session *client.Session
	core    *client.Core
}

type connectFailedMsg struct {
	session *client.Session
	err     error
}

type disconnectedMsg struct {
	core *client.Core
}

type selectorChangedMsg struct{}

type noticeMsg struct {
	notice client.Notice
}

type serversLoadedMsg struct {
	servers  []protocol.Server
	selectID string
}

type channelsLoadedMsg struct {
	serverID string
	channels []protocol.Channel
}

type peersLoadedMsg struct {
	peers []protocol.Profile
}

type dmOpenedMsg struct {
	peer protocol.Profile
}

type sentMsg struct {
	err error
}

type statusMsg struct {
	text string
}

type statusTimeoutMsg struct {
	version uint64
}

// attach wires a freshly connected core into the model
func (m *Model) attach(sess *client.Session, core *client.Core) tea.Cmd {
	m.detach()
	// changes is never closed: the selector may still be running a copy of
	// the callback after release. released wakes the bridge instead.
	changes := make(chan struct{}, 1)
	released := make(chan struct{})
	core.Selector.SetOnChange(func() {
		select {
		case <-released:
		case changes <- struct{}{}:
		default:
		}
	})
	notices, stopNotices := core.Notices.Subscribe()

	// Copies of the model share the core, so only the first detach releases it
	var once sync.Once
	m.release = func() {
		once.Do(func() {
			core.Selector.SetOnChange(nil)
			stopNotices()
			close(released)
			core.Close()
		})
	}
	m.session = sess
	m.core = core
	m.changes = changes
	m.released = released
	m.notices = notices

	cmds := []tea.Cmd{
		waitForChange(m.changes, m.released),
		waitForNotice(m.notices),
		m.loadServersCmd(""),
		m.goHomeCmd(),
	}
	if done := core.Disconnected(); done != nil {
		cmds = append(cmds, waitForDisconnect(core, done))
	}
	return tea.Batch(cmds...)
}

// detach drops the current core. Pending bridge commands exit once it is
// released.
func (m *Model) detach() {
	if m.core == nil {
		return
	}
	m.release()

	m.release = nil
	m.core = nil
	m.changes = nil
	m.released = nil
	m.notices = nil
	m.servers = nil
	m.channels = nil
	m.peers = nil
	m.messages = nil
	m.view = client.View{}
	m.serverCursor = 0
	m.listCursor = 0
	m.messageCursor = 0
}

// Close releases the core. Safe to call on a model that never signed in.
func (m *Model) Close() {
	m.detach()
}

func waitForChange(changes, released <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-changes:
			return selectorChangedMsg{}
		case <-released:
			return nil
		}
	}
}

func waitForNotice(ch <-chan client.Notice) tea.Cmd {
	return func() tea.Msg {
		notice, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{notice: notice}
	}
}

func waitForDisconnect(core *client.Core, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return disconnectedMsg{core: core}
	}
}

func statusTimeout(version uint64) tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return statusTimeoutMsg{version: version}
	})
}

func (m *Model) setStatus(text string) tea.Cmd {
	m.statusMessage = text
	m.statusVersion++
	return statusTimeout(m.statusVersion)
}

// Queries used by the views and tests

// selectedServer returns the server under the server cursor, if any
func (m Model) selectedServer() (protocol.Server, bool) {
	if m.serverCursor == 0 || m.serverCursor > len(m.servers) {
		return protocol.Server{}, false
	}
	return m.servers[m.serverCursor-1], true
}

// activeServer returns the server the selector is showing, if any
func (m Model) activeServer() (protocol.Server, bool) {
	for _, srv := range m.servers {
		if srv.ID == m.view.ServerID {
			return srv, true
		}
	}
	return protocol.Server{}, false
}

func (m Model) activeChannel() (protocol.Channel, bool) {
	for _, ch := range m.channels {
		if ch.ID == m.view.ChannelID {
			return ch, true
		}
	}
	return protocol.Channel{}, false
}

func (m Model) activePeer() (protocol.Profile, bool) {
	for _, p := range m.peers {
		if p.ID == m.view.PeerID {
			return p, true
		}
	}
	return protocol.Profile{}, false
}

// listLen is the number of entries in the middle pane
func (m Model) listLen() int {
	if m.serverCursor == 0 {
		return len(m.peers)
	}
	return len(m.channels)
}

// dmCandidates are the people the user can open a DM with: existing peers
// and authors seen in the open conversation
func (m Model) dmCandidates() []protocol.Profile {
	seen := make(map[string]bool)
	var out []protocol.Profile
	add := func(p protocol.Profile) {
		if p.ID == "" || seen[p.ID] || (m.session != nil && p.ID == m.session.UserID) {
			return
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	for _, p := range m.peers {
		add(p)
	}
	for _, msg := range m.messages {
		if msg.Author != nil {
			add(*msg.Author)
		}
	}
	return out
}

func (m Model) isOwnMessage(msg client.Message) bool {
	return m.session != nil && msg.AuthorID == m.session.UserID
}

func (m Model) selectedMessage() (client.Message, bool) {
	if m.messageCursor < 0 || m.messageCursor >= len(m.messages) {
		return client.Message{}, false
	}
	return m.messages[m.messageCursor], true
}
