package ui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

const testSelfID = "u-self"

// fakeAuth answers sign in and sign up without a server
type fakeAuth struct {
	err    error
	signUp bool
}

func (a *fakeAuth) SignIn(ctx context.Context, username, password string) (*client.Session, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &client.Session{AccessToken: "tok", UserID: testSelfID, Username: username, ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}, nil
}

func (a *fakeAuth) SignUp(ctx context.Context, username, password string) (*client.Session, error) {
	a.signUp = true
	return a.SignIn(ctx, username, password)
}

// recordingNotifier captures desktop notifications
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, title+"|"+body)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testEnv struct {
	backend  *client.MockBackend
	feed     *client.MockFeed
	state    *client.MockState
	auth     *fakeAuth
	notifier *recordingNotifier
}

func newTestEnv() *testEnv {
	backend := client.NewMockBackend(testSelfID)
	feed := client.NewMockFeed()
	backend.SetFeed(feed)
	backend.AddProfile(protocol.Profile{ID: testSelfID, Username: "me"})
	backend.AddProfile(protocol.Profile{ID: "u-bob", Username: "bob"})
	return &testEnv{
		backend:  backend,
		feed:     feed,
		state:    client.NewMockState(),
		auth:     &fakeAuth{},
		notifier: &recordingNotifier{},
	}
}

func (e *testEnv) options() Options {
	return Options{
		ServerURL: "http://chorus.test",
		State:     e.state,
		Auth:      e.auth,
		Connect: func(ctx context.Context, sess *client.Session) (*client.Core, error) {
			return client.NewCore(e.backend, e.feed, sess, nil), nil
		},
		Notify:           e.notifier.notify,
		MaxMessageLength: 4000,
	}
}

// newTestModel creates a model on the login view with window dimensions set
func newTestModel(t *testing.T, env *testEnv) Model {
	t.Helper()
	m := NewModel(env.options())
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

// newConnectedModel signs in and attaches a core without running the
// blocking bridge commands
func newConnectedModel(t *testing.T, env *testEnv) Model {
	t.Helper()
	m := newTestModel(t, env)
	sess := &client.Session{AccessToken: "tok", UserID: testSelfID, Username: "me"}
	core := client.NewCore(env.backend, env.feed, sess, nil)
	updated, _ := m.Update(connectedMsg{session: sess, core: core})
	m = updated.(Model)
	t.Cleanup(m.Close)
	return m
}

// update applies msg and returns the new model and command
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

// run executes cmd and feeds its message back into the model
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	if msg := cmd(); msg != nil {
		m, _ = update(t, m, msg)
	}
	return m
}

// syncSelector applies the selector's current state
func syncSelector(t *testing.T, m Model) Model {
	t.Helper()
	m, _ = update(t, m, selectorChangedMsg{})
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func keyType(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}
