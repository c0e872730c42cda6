package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	st, err := OpenState(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(path), st.GetStateDir())
	assert.Nil(t, st.GetSession())

	require.NoError(t, st.SetServerURL("http://localhost:8080"))
	require.NoError(t, st.SetLastUsername("alice"))
	sess := &Session{AccessToken: "tok", UserID: "u1", Username: "alice", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
	require.NoError(t, st.SaveSession(sess))
	require.NoError(t, st.Close())

	st, err = OpenState(path)
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, "http://localhost:8080", st.GetServerURL())
	assert.Equal(t, "alice", st.GetLastUsername())
	assert.Equal(t, sess, st.GetSession())

	require.NoError(t, st.ClearSession())
	assert.Nil(t, st.GetSession())
}

func TestExpiredSessionIsNotRestored(t *testing.T) {
	st := NewMockState()
	require.NoError(t, st.SaveSession(&Session{
		AccessToken: "tok",
		UserID:      "u1",
		ExpiresAt:   time.Now().Add(-time.Minute).UnixMilli(),
	}))
	assert.Nil(t, st.GetSession())
}

func TestMockStateErrorInjection(t *testing.T) {
	st := NewMockState()
	st.SetSetConfigError(assert.AnError)
	assert.ErrorIs(t, st.SetServerURL("x"), assert.AnError)

	st.SetSetConfigError(nil)
	require.NoError(t, st.SetServerURL("x"))
	st.SetGetConfigError(assert.AnError)
	assert.Empty(t, st.GetServerURL())
}

func TestNoticesBoundedAndDismissable(t *testing.T) {
	n := NewNotices(2)
	ch, stop := n.Subscribe()
	defer stop()

	first := n.Post(MutationFailure, "one")
	n.Post(MutationFailure, "two")
	third := n.PostError(&Failure{Kind: TransientReadFailure, Op: "load", Err: assert.AnError})

	list := n.List()
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Text)
	assert.Equal(t, TransientReadFailure, list[1].Kind)
	assert.Equal(t, assert.AnError.Error(), list[1].Text)

	assert.False(t, n.Dismiss(first.ID))
	assert.True(t, n.Dismiss(third.ID))
	assert.Len(t, n.List(), 1)

	got := <-ch
	assert.Equal(t, "one", got.Text)
}
