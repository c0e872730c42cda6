package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	mu        sync.Mutex
	sessions  int
	delivered map[string]int
	dropped   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{delivered: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) RecordRealtimeSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = n
}

func (m *countingMetrics) RecordEventDelivered(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[table]++
}

func (m *countingMetrics) RecordEventDropped(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[table]++
}

// startFeed serves a change feed whose identities come from the user and
// role query parameters
func startFeed(t *testing.T) (*SessionManager, string) {
	t.Helper()
	sm := NewSessionManager(16, 0, nil)
	h := NewHandler(sm, func(r *http.Request) (Identity, error) {
		uid := r.URL.Query().Get("user")
		if uid == "" {
			return Identity{}, errors.New("missing user")
		}
		role := r.URL.Query().Get("role")
		if role == "" {
			role = RoleUser
		}
		return Identity{UserID: uid, Role: role}, nil
	}, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		sm.CloseAll()
		srv.Close()
	})
	return sm, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAs(t *testing.T, base, user, role string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, base+"?user="+user+"&role="+role, "unused", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func subscribe(t *testing.T, c *Client, topic, table, filter string) *Subscription {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Subscribe(ctx, topic, protocol.SubscribeRequest{Table: table, Filter: filter})
	require.NoError(t, err)
	return sub
}

func messageChange(id, channelID, userID string) protocol.Change {
	record, _ := json.Marshal(map[string]string{"id": id, "channel_id": channelID, "user_id": userID})
	return protocol.Change{
		Table:  protocol.TableMessages,
		Record: record,
		Fields: map[string]string{"channel_id": channelID, "user_id": userID},
	}
}

func dmChange(id, sender, recipient string) protocol.Change {
	record, _ := json.Marshal(map[string]string{"id": id, "sender_id": sender, "recipient_id": recipient})
	return protocol.Change{
		Table:  protocol.TableDirectMessages,
		Record: record,
		Fields: map[string]string{"sender_id": sender, "recipient_id": recipient},
	}
}

func recordID(t *testing.T, ev protocol.InsertEvent) string {
	t.Helper()
	var row struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(ev.Record, &row))
	return row.ID
}

func expectEvent(t *testing.T, sub *Subscription) protocol.InsertEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event on %s", sub.Topic)
		return protocol.InsertEvent{}
	}
}

func expectQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event on %s: %s", sub.Topic, ev.Record)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFilteredFanOut(t *testing.T) {
	sm, base := startFeed(t)
	alice := dialAs(t, base, "alice", RoleUser)
	bob := dialAs(t, base, "bob", RoleUser)

	subA := subscribe(t, alice, "messages:c1", protocol.TableMessages, "channel_id=eq.c1")
	subB := subscribe(t, bob, "messages:c2", protocol.TableMessages, "channel_id=eq.c2")

	sm.Publish(messageChange("m1", "c1", "bob"))
	sm.Publish(messageChange("m2", "c1", "alice"))

	ev := expectEvent(t, subA)
	assert.Equal(t, protocol.TableMessages, ev.Table)
	assert.Equal(t, "m1", recordID(t, ev))
	assert.Equal(t, "m2", recordID(t, expectEvent(t, subA)))
	expectQuiet(t, subB)
}

func TestDirectMessagesOnlyReachParticipants(t *testing.T) {
	sm, base := startFeed(t)
	alice := dialAs(t, base, "alice", RoleUser)
	carol := dialAs(t, base, "carol", RoleUser)

	subA := subscribe(t, alice, "dms:alice:bob", protocol.TableDirectMessages, "")
	subC := subscribe(t, carol, "dms:carol:dave", protocol.TableDirectMessages, "")

	sm.Publish(dmChange("d1", "bob", "alice"))

	assert.Equal(t, "d1", recordID(t, expectEvent(t, subA)))
	expectQuiet(t, subC)
}

func TestFlaggedMessagesRequireAdmin(t *testing.T) {
	sm, base := startFeed(t)
	user := dialAs(t, base, "alice", RoleUser)
	admin := dialAs(t, base, "root", RoleAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := user.Subscribe(ctx, "flags", protocol.SubscribeRequest{Table: protocol.TableFlaggedMessages})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrForbiddenTable.Error())

	sub := subscribe(t, admin, "flags", protocol.TableFlaggedMessages, "")
	sm.Publish(protocol.Change{Table: protocol.TableFlaggedMessages, Record: json.RawMessage(`{"id":"f1"}`)})
	assert.Equal(t, "f1", recordID(t, expectEvent(t, sub)))
}

func TestSubscribeRejectsBadRequests(t *testing.T) {
	_, base := startFeed(t)
	c := dialAs(t, base, "alice", RoleUser)

	tests := []struct {
		name string
		req  protocol.SubscribeRequest
	}{
		{name: "unknown table", req: protocol.SubscribeRequest{Table: "profiles"}},
		{name: "malformed filter", req: protocol.SubscribeRequest{Table: protocol.TableMessages, Filter: "channel_id=c1"}},
		{name: "unfilterable column", req: protocol.SubscribeRequest{Table: protocol.TableMessages, Filter: "content=eq.hi"}},
		{name: "messages without channel", req: protocol.SubscribeRequest{Table: protocol.TableMessages}},
		{name: "messages by author", req: protocol.SubscribeRequest{Table: protocol.TableMessages, Filter: "user_id=eq.bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := c.Subscribe(ctx, "t:"+tt.name, tt.req)
			assert.Error(t, err)
		})
	}
}

func TestUnauthenticatedUpgradeRefused(t *testing.T) {
	_, base := startFeed(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, base, "unused", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestCloseStopsDelivery(t *testing.T) {
	sm, base := startFeed(t)
	c := dialAs(t, base, "alice", RoleUser)
	sub := subscribe(t, c, "messages:c1", protocol.TableMessages, "channel_id=eq.c1")

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed")
	}

	// Unsubscribe is processed by the server before this ping's pong
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.request(ctx, protocol.TypePing, "", nil)
	require.NoError(t, err)

	sm.Publish(messageChange("m1", "c1", "bob"))
	expectQuiet(t, sub)
}

func TestSessionCleanupOnDisconnect(t *testing.T) {
	sm, base := startFeed(t)
	c := dialAs(t, base, "alice", RoleUser)
	subscribe(t, c, "messages:c1", protocol.TableMessages, "channel_id=eq.c1")
	require.Equal(t, 1, sm.Count())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return sm.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sm.getTableSubscribers(protocol.TableMessages))
}

func newBareSession(id uint64, identity Identity, buffer int) *Session {
	return &Session{
		ID:            id,
		Identity:      identity,
		send:          make(chan protocol.Envelope, buffer),
		done:          make(chan struct{}),
		subscriptions: make(map[string]TopicSubscription),
	}
}

func TestSlowSessionDropsWithoutBlockingOthers(t *testing.T) {
	sm := NewSessionManager(1, 0, nil)
	metrics := newCountingMetrics()
	sm.SetMetrics(metrics)

	slow := newBareSession(1, Identity{UserID: "slow", Role: RoleUser}, 1)
	fast := newBareSession(2, Identity{UserID: "fast", Role: RoleUser}, 8)
	c1 := protocol.EqFilter("channel_id", "c1")
	require.NoError(t, sm.Subscribe(slow, TopicSubscription{Topic: "a", Table: protocol.TableMessages, Filter: c1}))
	require.NoError(t, sm.Subscribe(fast, TopicSubscription{Topic: "b", Table: protocol.TableMessages, Filter: c1}))

	sm.Publish(messageChange("m1", "c1", "u"))
	sm.Publish(messageChange("m2", "c1", "u"))

	assert.Len(t, slow.send, 1)
	assert.Len(t, fast.send, 2)
	assert.Equal(t, 3, metrics.delivered[protocol.TableMessages])
	assert.Equal(t, 1, metrics.dropped[protocol.TableMessages])
}

func TestSubscribeReplacesTopicAndLimit(t *testing.T) {
	sm := NewSessionManager(4, 2, nil)
	sess := newBareSession(1, Identity{UserID: "u", Role: RoleAdmin}, 4)

	require.NoError(t, sm.Subscribe(sess, TopicSubscription{Topic: "a", Table: protocol.TableMessages}))
	require.NoError(t, sm.Subscribe(sess, TopicSubscription{Topic: "a", Table: protocol.TableFlaggedMessages}))
	assert.Equal(t, 1, sess.SubscriptionCount())
	assert.Empty(t, sm.getTableSubscribers(protocol.TableMessages))
	assert.Len(t, sm.getTableSubscribers(protocol.TableFlaggedMessages), 1)

	require.NoError(t, sm.Subscribe(sess, TopicSubscription{Topic: "b", Table: protocol.TableMessages}))
	assert.ErrorIs(t, sm.Subscribe(sess, TopicSubscription{Topic: "c", Table: protocol.TableMessages}), ErrTooManySubscriptions)

	assert.True(t, sm.Unsubscribe(sess, "b"))
	assert.False(t, sm.Unsubscribe(sess, "b"))
	assert.Empty(t, sm.getTableSubscribers(protocol.TableMessages))
}

func TestChannelMessagesRequireMembership(t *testing.T) {
	sm, base := startFeed(t)
	var mu sync.Mutex
	members := map[string]bool{"alice/c1": true}
	sm.SetChannelAuthorizer(func(userID, channelID string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return members[userID+"/"+channelID], nil
	})
	alice := dialAs(t, base, "alice", RoleUser)
	mallory := dialAs(t, base, "mallory", RoleUser)
	admin := dialAs(t, base, "root", RoleAdmin)

	subA := subscribe(t, alice, "messages:c1", protocol.TableMessages, "channel_id=eq.c1")
	subAdmin := subscribe(t, admin, "messages:all", protocol.TableMessages, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := mallory.Subscribe(ctx, "messages:c1", protocol.SubscribeRequest{Table: protocol.TableMessages, Filter: "channel_id=eq.c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNotMember.Error())

	sm.Publish(messageChange("m1", "c1", "alice"))
	assert.Equal(t, "m1", recordID(t, expectEvent(t, subA)))
	assert.Equal(t, "m1", recordID(t, expectEvent(t, subAdmin)))

	// Leaving the server stops delivery on an existing subscription
	mu.Lock()
	delete(members, "alice/c1")
	mu.Unlock()
	sm.Publish(messageChange("m2", "c1", "bob"))
	assert.Equal(t, "m2", recordID(t, expectEvent(t, subAdmin)))
	expectQuiet(t, subA)
}

func TestChannelAuthorizerErrorsDeny(t *testing.T) {
	sm := NewSessionManager(4, 0, nil)
	sm.SetChannelAuthorizer(func(userID, channelID string) (bool, error) {
		return false, errors.New("database is locked")
	})
	sess := newBareSession(1, Identity{UserID: "u", Role: RoleUser}, 4)

	err := sm.Subscribe(sess, TopicSubscription{Topic: "a", Table: protocol.TableMessages, Filter: protocol.EqFilter("channel_id", "c1")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.False(t, sm.canRead(sess, messageChange("m1", "c1", "x")))
	assert.True(t, sm.canRead(sess, dmChange("d1", "u", "x")))
}
