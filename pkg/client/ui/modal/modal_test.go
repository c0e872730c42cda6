package modal

import (
	"testing"

	"github.com/aeolun/chorus/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModalStack(t *testing.T) {
	var stack ModalStack
	require.True(t, stack.IsEmpty())
	assert.Equal(t, ModalNone, stack.TopType())

	first := NewErrorModal("one", "first", nil)
	second := NewErrorModal("two", "second", nil)
	stack.Push(first)
	stack.Push(NewHelpModal(nil))
	stack.Push(second)

	assert.Equal(t, 2, stack.Size(), "pushing a type already on the stack replaces it")
	assert.Same(t, second, stack.Top())

	stack.Replace(NewConnectionFailedModal("http://x", "down"))
	assert.Equal(t, ModalConnectionFailed, stack.TopType())
	assert.Equal(t, 2, stack.Size())

	stack.Replace(nil)
	assert.Equal(t, ModalHelp, stack.TopType())

	stack.RemoveByType(ModalHelp)
	assert.True(t, stack.IsEmpty())
	assert.Nil(t, stack.Pop())
}

func TestInputModalRejectsBlank(t *testing.T) {
	var submitted string
	m := NewCreateServerModal(func(name string) tea.Cmd {
		submitted = name
		return nil
	})

	handled, next, _ := m.HandleKey(runes("   "))
	require.True(t, handled)
	handled, next, _ = next.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})

	assert.True(t, handled)
	assert.Same(t, m, next)
	assert.Equal(t, "A value is required", m.Error())
	assert.Empty(t, submitted)

	m.HandleKey(runes("Book Club"))
	assert.Empty(t, m.Error(), "typing clears the error")
	_, next, _ = m.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, next)
	assert.Equal(t, "Book Club", submitted)
}

func TestInputModalEscCancels(t *testing.T) {
	called := false
	m := NewReportModal("bob", "hi", func(string) tea.Cmd {
		called = true
		return nil
	})

	handled, next, _ := m.HandleKey(tea.KeyMsg{Type: tea.KeyEsc})

	assert.True(t, handled)
	assert.Nil(t, next)
	assert.False(t, called)
	assert.True(t, m.IsBlockingInput())
}

func TestStartDMModal(t *testing.T) {
	users := []protocol.Profile{
		{ID: "u-self", Username: "me"},
		{ID: "u-bob", Username: "bob"},
		{ID: "u-bobby", Username: "Bobby"},
		{ID: "u-carol", Username: "carol"},
	}
	var picked protocol.Profile
	m := NewStartDMModal(users, "u-self", func(p protocol.Profile) tea.Cmd {
		picked = p
		return nil
	})

	require.Len(t, m.Filtered(), 3, "self is never listed")

	m.HandleKey(runes("BOB"))
	require.Len(t, m.Filtered(), 2, "search ignores case")

	m.HandleKey(tea.KeyMsg{Type: tea.KeyDown})
	_, next, _ := m.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, next)
	assert.Equal(t, "u-bobby", picked.ID)
}

func TestStartDMModalBackspace(t *testing.T) {
	m := NewStartDMModal([]protocol.Profile{{ID: "a", Username: "alice"}, {ID: "b", Username: "bob"}}, "", nil)

	m.HandleKey(runes("x"))
	assert.Empty(t, m.Filtered())
	assert.Contains(t, m.Render(80, 24), "No users match your search")

	m.HandleKey(tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Len(t, m.Filtered(), 2)
}

func TestConnectionFailedModal(t *testing.T) {
	m := NewConnectionFailedModal("http://chorus.test", "dial tcp: refused")
	assert.False(t, m.IsBlockingInput())

	handled, next, cmd := m.HandleKey(tea.KeyMsg{Type: tea.KeyTab})
	assert.False(t, handled, "unrelated keys reach the main view")
	assert.Same(t, m, next)
	assert.Nil(t, cmd)

	m.HandleKey(tea.KeyMsg{Type: tea.KeyDown})
	handled, next, cmd = m.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, handled)
	assert.Nil(t, next)
	assert.IsType(t, ConnectionFailedSignOutMsg{}, cmd())

	_, _, cmd = m.HandleKey(runes("r"))
	assert.IsType(t, ConnectionFailedRetryMsg{}, cmd())
}

func TestErrorModalRunsOnClose(t *testing.T) {
	closed := false
	m := NewErrorModal("Not allowed", "Unauthorized", func() tea.Cmd {
		closed = true
		return nil
	})

	handled, next, _ := m.HandleKey(runes("x"))
	assert.True(t, handled)
	assert.Same(t, m, next)
	assert.False(t, closed)

	_, next, _ = m.HandleKey(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, next)
	assert.True(t, closed)
	assert.Equal(t, "Unauthorized", m.Message())
}
