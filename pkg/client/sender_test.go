package client

import (
	"context"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEmptySendMakesNoCall(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		content := rapid.StringMatching(`[ \t\n\r]*`).Draw(rt, "content")
		dm := rapid.Bool().Draw(rt, "dm")

		backend := NewMockBackend("u1")
		notices := NewNotices(0)
		s := NewSender(backend, notices)

		key := ChannelKey("c1")
		if dm {
			key = DMKey("peer")
		}
		err := s.Send(context.Background(), key, content)

		assert.ErrorIs(rt, err, ErrEmptyMessage)
		assert.Equal(rt, ValidationFailure, KindOf(err))
		assert.Zero(rt, backend.TotalCalls())
		assert.Len(rt, notices.List(), 1)
	})
}

func TestEmptySendLeavesListUnchanged(t *testing.T) {
	tc := newTestCore(t, "u1")
	tc.backend.AddMessage(protocol.Message{ID: "A", ChannelID: "c1", UserID: "u1", CreatedAt: 1})
	require.NoError(t, tc.selector.SelectChannel(context.Background(), "s1", "c1"))
	before := tc.selector.Messages()
	calls := tc.backend.TotalCalls()

	err := NewSender(tc.backend, tc.notices).SendChannelMessage(context.Background(), "c1", "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, before, tc.selector.Messages())
	assert.Equal(t, calls, tc.backend.TotalCalls())
}

func TestSentMessageArrivesThroughEcho(t *testing.T) {
	tc := newTestCore(t, "u1")
	require.NoError(t, tc.selector.SelectChannel(context.Background(), "s1", "c1"))

	require.NoError(t, NewSender(tc.backend, tc.notices).SendChannelMessage(context.Background(), "c1", "  hello  "))
	require.Eventually(t, func() bool { return len(tc.selector.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", tc.selector.Messages()[0].Content)
}

func TestSendFailureIsMutationFailure(t *testing.T) {
	backend := NewMockBackend("u1")
	backend.SetError("InsertDirectMessage", &APIError{Status: 500, Message: "insert failed"})
	notices := NewNotices(0)

	err := NewSender(backend, notices).SendDirectMessage(context.Background(), "peer", "hi")
	require.Error(t, err)
	assert.Equal(t, MutationFailure, KindOf(err))
	require.Len(t, notices.List(), 1)
	assert.Equal(t, "insert failed", notices.List()[0].Text)
}

func TestSendRejectedByRowRulesIsAuthorizationFailure(t *testing.T) {
	backend := NewMockBackend("u1")
	backend.SetError("InsertMessage", &APIError{Status: 403, Message: "You are banned from this server"})

	err := NewSender(backend, nil).SendChannelMessage(context.Background(), "c1", "hi")
	assert.Equal(t, AuthorizationFailure, KindOf(err))
	assert.Contains(t, err.Error(), "banned")
}

func TestCreateServer(t *testing.T) {
	backend := NewMockBackend("u1")
	notices := NewNotices(0)
	s := NewSender(backend, notices)

	_, err := s.CreateServer(context.Background(), " \t")
	require.ErrorIs(t, err, ErrServerNameRequired)
	assert.Equal(t, "Server name is required", notices.List()[0].Text)
	assert.Zero(t, backend.TotalCalls())

	srv, err := s.CreateServer(context.Background(), " Gophers ")
	require.NoError(t, err)
	assert.Equal(t, "Gophers", srv.Name)

	channels := NewNavigator(backend, nil).Channels(context.Background(), srv.ID)
	first, ok := FirstTextChannel(channels)
	require.True(t, ok)
	assert.Equal(t, "general", first.Name)
}

func TestJoinServer(t *testing.T) {
	backend := NewMockBackend("u1")
	backend.AddServer(protocol.Server{ID: "s1", Name: "Gophers", InviteCode: "abc123"})
	s := NewSender(backend, NewNotices(0))

	srv, err := s.JoinServer(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "s1", srv.ID)

	_, err = s.JoinServer(context.Background(), "nope")
	assert.Equal(t, MutationFailure, KindOf(err))

	_, err = s.JoinServer(context.Background(), "")
	assert.ErrorIs(t, err, ErrInviteCodeRequired)
}

func TestReportMessage(t *testing.T) {
	backend := NewMockBackend("u1")
	s := NewSender(backend, nil)

	require.NoError(t, s.ReportMessage(context.Background(), Message{ID: "m1", ChannelID: "c1"}, "spam"))
	require.NoError(t, s.ReportMessage(context.Background(), Message{ID: "d1", AuthorID: "x", RecipientID: "u1"}, "abuse"))
	assert.ErrorIs(t, s.ReportMessage(context.Background(), Message{ID: "m2"}, " "), ErrReasonRequired)

	flags := backend.Flags()
	require.Len(t, flags, 2)
	require.NotNil(t, flags[0].MessageID)
	assert.Equal(t, "m1", *flags[0].MessageID)
	assert.Nil(t, flags[0].DMID)
	require.NotNil(t, flags[1].DMID)
	assert.Equal(t, "d1", *flags[1].DMID)
	assert.Nil(t, flags[1].MessageID)
}

func TestNavigatorOrdersAndDegrades(t *testing.T) {
	backend := NewMockBackend("u1")
	backend.AddServer(protocol.Server{ID: "s2", CreatedAt: 20})
	backend.AddServer(protocol.Server{ID: "s1", CreatedAt: 10},
		protocol.Channel{ID: "voice", ServerID: "s1", Type: protocol.ChannelTypeVoice, Position: 0},
		protocol.Channel{ID: "later", ServerID: "s1", Type: protocol.ChannelTypeText, Position: 2},
		protocol.Channel{ID: "first", ServerID: "s1", Type: protocol.ChannelTypeText, Position: 1},
	)
	notices := NewNotices(0)
	nav := NewNavigator(backend, notices)

	servers := nav.Servers(context.Background())
	require.Len(t, servers, 2)
	assert.Equal(t, "s1", servers[0].ID)

	channels := nav.Channels(context.Background(), "s1")
	require.Len(t, channels, 3)
	first, ok := FirstTextChannel(channels)
	require.True(t, ok)
	assert.Equal(t, "first", first.ID)

	backend.SetError("ListDMPeers", assert.AnError)
	assert.Empty(t, nav.DMPeers(context.Background()))
	require.Len(t, notices.List(), 1)
	assert.Equal(t, TransientReadFailure, notices.List()[0].Kind)
}
