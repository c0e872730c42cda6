package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCore struct {
	backend  *MockBackend
	feed     *MockFeed
	notices  *Notices
	selector *Selector
	sub      *Subscriber
	store    *MessageStore
}

func newTestCore(t *testing.T, self string) *testCore {
	t.Helper()
	backend := NewMockBackend(self)
	feed := NewMockFeed()
	backend.SetFeed(feed)
	notices := NewNotices(0)
	profiles := NewProfileResolver(backend)
	store := NewMessageStore(backend, profiles, notices, nil)
	sub := NewSubscriber(feed, profiles, self, nil)
	sel := NewSelector(store, sub, notices)
	t.Cleanup(func() { sel.Close() })
	return &testCore{backend: backend, feed: feed, notices: notices, selector: sel, sub: sub, store: store}
}

func messageIDs(msgs []Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func waitForMessage(t *testing.T, sel *Selector, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range sel.Messages() {
			if m.ID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "message %s never appended", id)
}

func TestSelectChannelLoadsThenStreams(t *testing.T) {
	tc := newTestCore(t, "u1")
	tc.backend.AddProfile(protocol.Profile{ID: "u2", Username: "bob"})
	tc.backend.AddMessage(protocol.Message{ID: "A", ChannelID: "c1", UserID: "u2", CreatedAt: 1})

	require.NoError(t, tc.selector.SelectChannel(context.Background(), "s1", "c1"))
	assert.Equal(t, []string{"A"}, messageIDs(tc.selector.Messages()))
	assert.Equal(t, View{Kind: ChannelSelected, ServerID: "s1", ChannelID: "c1"}, tc.selector.View())
	assert.Equal(t, []string{"subscribe:messages:c1"}, tc.feed.Log())

	tc.feed.Publish(protocol.TableMessages, protocol.Message{ID: "B", ChannelID: "c1", UserID: "u2", CreatedAt: 5})
	waitForMessage(t, tc.selector, "B")

	msgs := tc.selector.Messages()
	assert.Equal(t, []string{"A", "B"}, messageIDs(msgs))
	assert.Equal(t, "bob", msgs[1].AuthorName())
}

func TestRealtimeEchoOfLoadedRowIsIgnored(t *testing.T) {
	tc := newTestCore(t, "u1")
	row := protocol.Message{ID: "A", ChannelID: "c1", UserID: "u1", CreatedAt: 1}
	tc.backend.AddMessage(row)
	require.NoError(t, tc.selector.SelectChannel(context.Background(), "s1", "c1"))

	tc.feed.Publish(protocol.TableMessages, row)
	tc.feed.Publish(protocol.TableMessages, protocol.Message{ID: "B", ChannelID: "c1", UserID: "u1", CreatedAt: 2})
	waitForMessage(t, tc.selector, "B")

	assert.Equal(t, []string{"A", "B"}, messageIDs(tc.selector.Messages()))
}

func TestSwitchingDMClosesPreviousBeforeOpeningNext(t *testing.T) {
	tc := newTestCore(t, "self")
	ctx := context.Background()

	require.NoError(t, tc.selector.SelectDM(ctx, "A"))
	require.NoError(t, tc.selector.SelectDM(ctx, "B"))

	assert.Equal(t, []string{
		"subscribe:dms:self:A",
		"close:dms:self:A",
		"subscribe:dms:self:B",
	}, tc.feed.Log())
	assert.Equal(t, 1, tc.feed.Open())

	// Late traffic for A and unrelated pairs never reaches B's list
	tc.feed.Publish(protocol.TableDirectMessages, protocol.DirectMessage{ID: "fromA", SenderID: "A", RecipientID: "self", CreatedAt: 1})
	tc.feed.Publish(protocol.TableDirectMessages, protocol.DirectMessage{ID: "cd", SenderID: "C", RecipientID: "D", CreatedAt: 2})
	tc.feed.Publish(protocol.TableDirectMessages, protocol.DirectMessage{ID: "toA", SenderID: "self", RecipientID: "A", CreatedAt: 3})
	tc.feed.Publish(protocol.TableDirectMessages, protocol.DirectMessage{ID: "fromB", SenderID: "B", RecipientID: "self", CreatedAt: 4})
	tc.feed.Publish(protocol.TableDirectMessages, protocol.DirectMessage{ID: "toB", SenderID: "self", RecipientID: "B", CreatedAt: 5})
	waitForMessage(t, tc.selector, "toB")

	msgs := tc.selector.Messages()
	assert.Equal(t, []string{"fromB", "toB"}, messageIDs(msgs))
	for _, m := range msgs {
		pair := map[string]bool{m.AuthorID: true, m.RecipientID: true}
		assert.Equal(t, map[string]bool{"self": true, "B": true}, pair)
	}
}

func TestTransitionsOutOfConversationCloseHandle(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		move func(*Selector) error
		want View
	}{
		{name: "select server", move: func(s *Selector) error { return s.SelectServer(ctx, "s2") }, want: View{Kind: ServerSelected, ServerID: "s2"}},
		{name: "go home", move: func(s *Selector) error { return s.GoHome(ctx) }, want: View{Kind: Home}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCore(t, "u1")
			tc.backend.AddMessage(protocol.Message{ID: "A", ChannelID: "c1", UserID: "u1", CreatedAt: 1})
			require.NoError(t, tc.selector.SelectChannel(ctx, "s1", "c1"))
			require.Equal(t, 1, tc.feed.Open())

			require.NoError(t, tt.move(tc.selector))
			assert.Equal(t, tt.want, tc.selector.View())
			assert.Zero(t, tc.feed.Open())
			assert.Empty(t, tc.selector.Messages())
		})
	}
}

func TestSelectDMFromChannelClearsChannel(t *testing.T) {
	tc := newTestCore(t, "self")
	ctx := context.Background()
	require.NoError(t, tc.selector.SelectChannel(ctx, "s1", "c1"))
	require.NoError(t, tc.selector.SelectDM(ctx, "B"))

	v := tc.selector.View()
	assert.Equal(t, DMSelected, v.Kind)
	assert.Empty(t, v.ChannelID)
	assert.Equal(t, "B", v.PeerID)
	assert.Equal(t, []string{"subscribe:messages:c1", "close:messages:c1", "subscribe:dms:self:B"}, tc.feed.Log())
}

// blockingLoader holds LoadHistory for one key until released
type blockingLoader struct {
	inner   HistoryLoader
	blockOn ConversationKey
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLoader) LoadHistory(ctx context.Context, key ConversationKey) []Message {
	if key == b.blockOn {
		close(b.entered)
		<-b.release
	}
	return b.inner.LoadHistory(ctx, key)
}

func TestStaleHistoryLoadIsDiscarded(t *testing.T) {
	tc := newTestCore(t, "self")
	tc.backend.AddDirectMessage(protocol.DirectMessage{ID: "a1", SenderID: "A", RecipientID: "self", CreatedAt: 1})
	tc.backend.AddDirectMessage(protocol.DirectMessage{ID: "b1", SenderID: "B", RecipientID: "self", CreatedAt: 2})

	loader := &blockingLoader{
		inner:   tc.store,
		blockOn: DMKey("A"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sel := NewSelector(loader, tc.sub, tc.notices)
	defer sel.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sel.SelectDM(context.Background(), "A")
	}()
	<-loader.entered

	require.NoError(t, sel.SelectDM(context.Background(), "B"))
	close(loader.release)
	wg.Wait()

	assert.Equal(t, []string{"b1"}, messageIDs(sel.Messages()))
	assert.Equal(t, "B", sel.View().PeerID)
	// A's load finished after the switch, so A was never subscribed
	assert.Equal(t, []string{"subscribe:dms:self:B"}, tc.feed.Log())
}

func TestSubscribeFailurePostsNotice(t *testing.T) {
	tc := newTestCore(t, "u1")
	tc.feed.SetError(assert.AnError)

	err := tc.selector.SelectChannel(context.Background(), "s1", "c1")
	require.Error(t, err)
	assert.Equal(t, TransientReadFailure, KindOf(err))
	assert.Len(t, tc.notices.List(), 1)
}

func TestHandleCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	tc := newTestCore(t, "u1")
	var mu sync.Mutex
	var got []string
	h, err := tc.sub.Subscribe(context.Background(), ChannelKey("c1"), func(m Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	})
	require.NoError(t, err)

	tc.feed.Publish(protocol.TableMessages, protocol.Message{ID: "A", ChannelID: "c1", UserID: "u1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	tc.feed.Publish(protocol.TableMessages, protocol.Message{ID: "B", ChannelID: "c1", UserID: "u1"})

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A"}, got)
	assert.Equal(t, []string{"subscribe:messages:c1", "close:messages:c1"}, tc.feed.Log())
}

func TestChangeCallbackFires(t *testing.T) {
	tc := newTestCore(t, "u1")
	var mu sync.Mutex
	calls := 0
	tc.selector.SetOnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, tc.selector.SelectChannel(context.Background(), "s1", "c1"))
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}
