package ui

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/client/ui/modal"
	"github.com/aeolun/chorus/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addGuild(env *testEnv) {
	env.backend.AddServer(
		protocol.Server{ID: "s1", Name: "Guild", OwnerID: "u-bob", InviteCode: "join-me"},
		protocol.Channel{ID: "v1", ServerID: "s1", Name: "lounge", Type: protocol.ChannelTypeVoice, Position: 0},
		protocol.Channel{ID: "c1", ServerID: "s1", Name: "general", Type: protocol.ChannelTypeText, Position: 1},
	)
}

// openChannel selects the Guild server, which opens its first text channel
func openChannel(t *testing.T, m Model) Model {
	t.Helper()
	m = run(t, m, m.loadServersCmd(""))
	m.setFocus(PaneServers)
	m, _ = update(t, m, keyType(tea.KeyDown))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	m = run(t, m, cmd)
	return syncSelector(t, m)
}

func TestNewModelStartsOnLogin(t *testing.T) {
	env := newTestEnv()
	env.state.SetLastUsername("alice")

	m := NewModel(env.options())

	assert.Equal(t, ViewLogin, m.currentView)
	assert.Equal(t, "alice", m.login.username.Value())
	assert.Equal(t, loginFieldPassword, m.login.focused, "known username focuses the password")
	assert.Nil(t, m.core)
}

func TestNewModelWithSavedSessionConnects(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.state.SaveSession(&client.Session{
		AccessToken: "tok", UserID: testSelfID, Username: "me",
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	}))

	m := NewModel(env.options())
	require.Equal(t, ViewConnecting, m.currentView)

	m = run(t, m, m.Init())
	t.Cleanup(m.Close)
	assert.Equal(t, ViewMain, m.currentView)
	require.NotNil(t, m.core)
	assert.Equal(t, "me", m.session.Username)
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv()
	m := newTestModel(t, env)

	m, _ = update(t, m, keyRunes("alice"))
	m, _ = update(t, m, keyType(tea.KeyTab))
	m, _ = update(t, m, keyRunes("hunter2"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	require.True(t, m.login.busy)

	m, cmd = update(t, m, cmd())
	require.Equal(t, ViewConnecting, m.currentView)
	m = run(t, m, cmd)
	t.Cleanup(m.Close)
	assert.Equal(t, ViewMain, m.currentView)
	assert.Equal(t, "alice", env.state.GetLastUsername())
	require.NotNil(t, env.state.GetSession())
	assert.Equal(t, "tok", env.state.GetSession().AccessToken)
	assert.False(t, env.auth.signUp)
}

func TestLoginEnterOnUsernameMovesToPassword(t *testing.T) {
	env := newTestEnv()
	m := newTestModel(t, env)

	m, _ = update(t, m, keyRunes("alice"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))

	assert.Nil(t, cmd)
	assert.False(t, m.login.busy)
	assert.Equal(t, loginFieldPassword, m.login.focused)
}

func TestSignUpToggle(t *testing.T) {
	env := newTestEnv()
	m := newTestModel(t, env)

	m, _ = update(t, m, keyType(tea.KeyCtrlS))
	require.True(t, m.login.signUp)
	assert.Contains(t, m.View(), "Create a Chorus account")

	m, _ = update(t, m, keyRunes("carol"))
	m, _ = update(t, m, keyType(tea.KeyTab))
	m, _ = update(t, m, keyRunes("pw"))
	_, cmd := update(t, m, keyType(tea.KeyEnter))
	res := cmd().(authResultMsg)

	require.NoError(t, res.err)
	assert.True(t, env.auth.signUp)
	assert.Equal(t, "carol", res.session.Username)
}

func TestLoginFailureShowsServerMessage(t *testing.T) {
	env := newTestEnv()
	env.auth.err = &client.Failure{
		Kind: client.AuthorizationFailure,
		Op:   "sign in",
		Err:  &client.APIError{Status: 401, Message: "invalid username or password"},
	}
	m := newTestModel(t, env)

	m, _ = update(t, m, keyRunes("alice"))
	m, _ = update(t, m, keyType(tea.KeyTab))
	m, _ = update(t, m, keyRunes("wrong"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	m = run(t, m, cmd)

	assert.Equal(t, ViewLogin, m.currentView)
	assert.False(t, m.login.busy)
	assert.Equal(t, "invalid username or password", m.login.err)
	assert.Nil(t, env.state.GetSession())
}

func TestConnectFailure(t *testing.T) {
	t.Run("expired session returns to login", func(t *testing.T) {
		env := newTestEnv()
		m := newTestModel(t, env)
		m.session = &client.Session{UserID: testSelfID, Username: "me"}
		m.currentView = ViewConnecting

		m, _ = update(t, m, connectFailedMsg{err: &client.Failure{Kind: client.AuthorizationFailure, Op: "connect", Err: errors.New("token expired")}})

		assert.Equal(t, ViewLogin, m.currentView)
		assert.Contains(t, m.login.err, "expired")
		assert.Equal(t, "me", m.login.username.Value())
	})

	t.Run("network error offers retry", func(t *testing.T) {
		env := newTestEnv()
		m := newTestModel(t, env)
		sess := &client.Session{UserID: testSelfID, Username: "me"}
		m.session = sess
		m.currentView = ViewConnecting

		m, _ = update(t, m, connectFailedMsg{session: sess, err: errors.New("connection refused")})
		require.Equal(t, modal.ModalConnectionFailed, m.modalStack.TopType())
		assert.Contains(t, m.View(), "connection refused")

		m, cmd := update(t, m, keyRunes("r"))
		assert.True(t, m.modalStack.IsEmpty())
		m = run(t, m, cmd) // retry message
		assert.Equal(t, ViewConnecting, m.currentView)
	})
}

func TestSelectingServerOpensFirstTextChannel(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	env.backend.AddMessage(protocol.Message{ID: "m1", ChannelID: "c1", UserID: "u-bob", Content: "welcome", CreatedAt: 10})
	m := newConnectedModel(t, env)

	m = openChannel(t, m)

	assert.Equal(t, client.ChannelSelected, m.view.Kind)
	assert.Equal(t, "c1", m.view.ChannelID, "voice channel is skipped")
	assert.Len(t, m.channels, 2)
	assert.Equal(t, "Guild #general", m.conversationTitle())
	require.Len(t, m.messages, 1)
	assert.Equal(t, "bob", m.messages[0].AuthorName())
	assert.Contains(t, m.View(), "welcome")
}

func TestVoiceChannelIsListedOnly(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneList)
	m.listCursor = 0 // lounge
	m, cmd := update(t, m, keyType(tea.KeyEnter))

	require.NotNil(t, cmd)
	assert.Equal(t, "Voice channels are listed only", m.statusMessage)
	assert.Equal(t, "c1", m.core.Selector.View().ChannelID)
}

func TestSendMessageAppearsThroughEcho(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneInput)
	m, _ = update(t, m, keyRunes("hello there"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	assert.Empty(t, m.input.Value())

	res := cmd().(sentMsg)
	require.NoError(t, res.err)
	require.Eventually(t, func() bool {
		return len(m.core.Selector.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	m = syncSelector(t, m)
	require.Len(t, m.messages, 1)
	assert.Equal(t, "hello there", m.messages[0].Content)
	assert.Equal(t, "me", m.messages[0].AuthorName())
}

func TestBlankSendMakesNoCall(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneInput)
	m, _ = update(t, m, keyRunes("   "))
	_, cmd := update(t, m, keyType(tea.KeyEnter))
	res := cmd().(sentMsg)

	assert.Equal(t, client.ValidationFailure, client.KindOf(res.err))
	assert.Equal(t, 0, env.backend.Calls("InsertMessage"))
	assert.Empty(t, m.core.Selector.Messages())
	require.Len(t, m.core.Notices.List(), 1)
	assert.Contains(t, m.View(), "Message cannot be empty")
}

func TestStartDMFromChannelAuthor(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	env.backend.AddMessage(protocol.Message{ID: "m1", ChannelID: "c1", UserID: "u-bob", Content: "hi", CreatedAt: 10})
	env.backend.AddMessage(protocol.Message{ID: "m2", ChannelID: "c1", UserID: testSelfID, Content: "yo", CreatedAt: 11})
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	candidates := m.dmCandidates()
	require.Len(t, candidates, 1, "self is never a candidate")
	assert.Equal(t, "bob", candidates[0].Username)

	m, _ = update(t, m, keyType(tea.KeyCtrlD))
	require.Equal(t, modal.ModalStartDM, m.modalStack.TopType())

	m, cmd := update(t, m, keyType(tea.KeyEnter))
	assert.True(t, m.modalStack.IsEmpty())
	m = run(t, m, cmd)
	m = syncSelector(t, m)

	assert.Equal(t, client.DMSelected, m.view.Kind)
	assert.Equal(t, "u-bob", m.view.PeerID)
	assert.Equal(t, 0, m.serverCursor)
	require.Len(t, m.peers, 1)
	assert.Equal(t, PaneInput, m.focus)
	assert.Equal(t, "@bob", m.conversationTitle())
}

func TestCreateServerSelectsIt(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)

	m, _ = update(t, m, keyType(tea.KeyCtrlN))
	require.Equal(t, modal.ModalCreateServer, m.modalStack.TopType())

	m, _ = update(t, m, keyRunes("Book Club"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	require.True(t, m.modalStack.IsEmpty())

	loaded := cmd().(serversLoadedMsg)
	require.Len(t, loaded.servers, 1)
	m, cmd = update(t, m, loaded)
	assert.Equal(t, 1, m.serverCursor)
	m = run(t, m, cmd)
	m = syncSelector(t, m)

	assert.Equal(t, client.ChannelSelected, m.view.Kind)
	require.Len(t, m.channels, 1)
	assert.Equal(t, "general", m.channels[0].Name)
	assert.Equal(t, "Book Club #general", m.conversationTitle())
}

func TestJoinServerRejectsBlankCode(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)

	m, _ = update(t, m, keyType(tea.KeyCtrlT))
	m, cmd := update(t, m, keyType(tea.KeyEnter))

	assert.Nil(t, cmd)
	require.Equal(t, modal.ModalJoinServer, m.modalStack.TopType())
	assert.Contains(t, m.View(), "A value is required")
	assert.Equal(t, 0, env.backend.Calls("JoinServer"))
}

func TestReportMessage(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	env.backend.AddMessage(protocol.Message{ID: "m1", ChannelID: "c1", UserID: "u-bob", Content: "buy cheap watches", CreatedAt: 10})
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneMessages)
	m, _ = update(t, m, keyRunes("r"))
	require.Equal(t, modal.ModalReport, m.modalStack.TopType())

	m, _ = update(t, m, keyRunes("spam"))
	m, cmd := update(t, m, keyType(tea.KeyEnter))
	m = run(t, m, cmd)

	assert.Equal(t, "Report sent to the moderators", m.statusMessage)
	flags := env.backend.Flags()
	require.Len(t, flags, 1)
	require.NotNil(t, flags[0].MessageID)
	assert.Equal(t, "m1", *flags[0].MessageID)
	assert.Equal(t, "spam", flags[0].Reason)
}

func TestCannotReportOwnMessage(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	env.backend.AddMessage(protocol.Message{ID: "m1", ChannelID: "c1", UserID: testSelfID, Content: "mine", CreatedAt: 10})
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneMessages)
	m, _ = update(t, m, keyRunes("r"))

	assert.True(t, m.modalStack.IsEmpty())
	assert.Equal(t, "You cannot report your own message", m.statusMessage)
}

func TestInviteCodeShown(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)

	m.setFocus(PaneList)
	m, _ = update(t, m, keyRunes("i"))

	assert.Equal(t, "Invite code for Guild: join-me", m.statusMessage)
}

func TestAuthorizationNoticeOpensDismissableModal(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)

	n := m.core.Notices.Post(client.AuthorizationFailure, "Unauthorized")
	m, _ = update(t, m, noticeMsg{notice: n})
	require.Equal(t, modal.ModalError, m.modalStack.TopType())

	m, _ = update(t, m, keyType(tea.KeyEnter))
	assert.True(t, m.modalStack.IsEmpty())
	assert.Empty(t, m.core.Notices.List())
}

func TestDismissNotice(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)
	m.core.Notices.Post(client.TransientReadFailure, "first")
	m.core.Notices.Post(client.TransientReadFailure, "second")

	m, _ = update(t, m, keyType(tea.KeyCtrlX))

	list := m.core.Notices.List()
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Text)
}

func TestSignOutClearsSession(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.state.SaveSession(&client.Session{AccessToken: "tok", UserID: testSelfID, Username: "me"}))
	m := newConnectedModel(t, env)

	m, _ = update(t, m, keyType(tea.KeyCtrlO))

	assert.Equal(t, ViewLogin, m.currentView)
	assert.Nil(t, m.core)
	assert.Nil(t, m.session)
	assert.Nil(t, env.state.GetSession())
	assert.Equal(t, "me", m.login.username.Value())
}

func TestDisconnectFromStaleCoreIgnored(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)

	other := client.NewCore(env.backend, env.feed, m.session, nil)
	m, _ = update(t, m, disconnectedMsg{core: other})
	assert.True(t, m.modalStack.IsEmpty())

	m, _ = update(t, m, disconnectedMsg{core: m.core})
	assert.Equal(t, modal.ModalConnectionFailed, m.modalStack.TopType())

	// The modal does not block browsing
	m, _ = update(t, m, keyType(tea.KeyTab))
	assert.Equal(t, PaneList, m.focus)
}

func TestDesktopNotificationWhenIdle(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	env.backend.AddMessage(protocol.Message{ID: "m1", ChannelID: "c1", UserID: "u-bob", Content: "earlier", CreatedAt: 10})
	m := newConnectedModel(t, env)
	m = openChannel(t, m)
	require.Len(t, m.messages, 1)

	publish := func(id, author, content string) {
		env.feed.Publish(protocol.TableMessages, protocol.Message{ID: id, ChannelID: "c1", UserID: author, Content: content, CreatedAt: 5000})
		require.Eventually(t, func() bool {
			for _, msg := range m.core.Selector.Messages() {
				if msg.ID == id {
					return true
				}
			}
			return false
		}, 2*time.Second, 5*time.Millisecond)
	}

	// Active user: no notification
	publish("m2", "u-bob", "are you there")
	assert.Nil(t, m.refreshFromSelector())

	// Idle user: notified for others only
	m.lastInteractionTime = time.Now().Add(-10 * time.Minute)
	publish("m3", testSelfID, "talking to myself")
	assert.Nil(t, m.refreshFromSelector())

	publish("m4", "u-bob", "ping")
	cmd := m.refreshFromSelector()
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, 1, env.notifier.count())
	assert.Equal(t, "Chorus - #general|bob: ping", env.notifier.calls[0])
}

func TestHelpModal(t *testing.T) {
	env := newTestEnv()
	m := newConnectedModel(t, env)

	m, _ = update(t, m, keyRunes("?"))
	require.Equal(t, modal.ModalHelp, m.modalStack.TopType())
	assert.Contains(t, m.View(), "create server")

	m, _ = update(t, m, keyType(tea.KeyEsc))
	assert.True(t, m.modalStack.IsEmpty())
}

func TestQuitClosesCore(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)
	require.Equal(t, 1, env.feed.Open())

	_, cmd := update(t, m, keyType(tea.KeyCtrlC))

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 0, env.feed.Open())
}

func TestCloseWhileSelectorIsChanging(t *testing.T) {
	env := newTestEnv()
	addGuild(env)
	m := newConnectedModel(t, env)
	m = openChannel(t, m)
	pending := waitForChange(m.changes, m.released)

	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			env.feed.Publish(protocol.TableMessages, protocol.Message{
				ID: fmt.Sprintf("burst-%d", i), ChannelID: "c1", UserID: "u-bob", Content: "spam", CreatedAt: int64(100 + i),
			})
		}
	}()

	require.Eventually(t, func() bool { return len(m.core.Selector.Messages()) > 0 }, 2*time.Second, time.Millisecond)
	m.Close()
	close(stop)
	<-published

	// A bridge command left over from the closed core must not hang
	done := make(chan struct{})
	go func() {
		pending()
		waitForChange(make(chan struct{}), closedChan())()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("change bridge still blocked after close")
	}
	assert.Nil(t, m.core)
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
