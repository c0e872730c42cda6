// Package realtime implements the Chorus change feed: a websocket endpoint
// that fans committed inserts out to subscribed sessions, and the client
// that consumes it.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

var (
	// ErrUnknownTable indicates a subscription names a table without a change feed.
	ErrUnknownTable = errors.New("table has no change feed")
	// ErrForbiddenTable indicates the session's role may not read the table.
	ErrForbiddenTable = errors.New("table not readable by this session")
	// ErrTooManySubscriptions indicates the session reached its subscription limit.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
	// ErrChannelFilterRequired indicates a user subscribed to messages without
	// naming a channel.
	ErrChannelFilterRequired = errors.New("messages subscriptions require a channel_id filter")
	// ErrNotMember indicates the user may not read the channel.
	ErrNotMember = errors.New("not a member of this server")
)

// ChannelAuthorizer reports whether userID may read the messages of
// channelID.
type ChannelAuthorizer func(userID, channelID string) (bool, error)

// Roles a session can hold
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var tableRoles = map[string][]string{
	protocol.TableMessages:        {RoleUser, RoleAdmin},
	protocol.TableDirectMessages:  {RoleUser, RoleAdmin},
	protocol.TableFlaggedMessages: {RoleAdmin},
}

// Metrics receives change feed counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordRealtimeSessions(n int)
	RecordEventDelivered(table string)
	RecordEventDropped(table string)
}

// TopicSubscription is one topic a session listens on
type TopicSubscription struct {
	Topic  string
	Table  string
	Filter *protocol.Filter
}

// Identity is the authenticated owner of a session
type Identity struct {
	UserID string
	Role   string
}

// Session represents one websocket connection to the change feed
type Session struct {
	ID         uint64
	Identity   Identity
	Conn       *SafeConn
	RemoteAddr string

	send      chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once

	subscriptions map[string]TopicSubscription // topic -> subscription
	subMu         sync.RWMutex            // Protects subscriptions
}

// enqueue hands an envelope to the session's writer without blocking.
// Returns false if the buffer is full or the session is closed.
func (s *Session) enqueue(env protocol.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// SubscriptionCount returns the number of topics the session listens on (thread-safe)
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscriptions)
}


// SessionManager manages all change feed sessions
type SessionManager struct {
	sessions map[uint64]*Session
	nextID   uint64
	mu       sync.RWMutex

	metrics          Metrics
	authorize        ChannelAuthorizer
	log              *zap.SugaredLogger
	bufferSize       int
	maxSubscriptions int

	// Reverse index for fan-out: table -> sessionID -> session
	tableSubscribers map[string]map[uint64]*Session
	subIndexMu       sync.RWMutex
}

// NewSessionManager creates a session manager. bufferSize bounds the number
// of undelivered envelopes per session; maxSubscriptions bounds topics per
// session (0 = unlimited).
func NewSessionManager(bufferSize, maxSubscriptions int, log *zap.SugaredLogger) *SessionManager {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SessionManager{
		sessions:         make(map[uint64]*Session),
		nextID:           1,
		log:              log,
		bufferSize:       bufferSize,
		maxSubscriptions: maxSubscriptions,
		tableSubscribers: make(map[string]map[uint64]*Session),
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics Metrics) {
	sm.metrics = metrics
}

// SetChannelAuthorizer installs the membership check for channel messages.
// Without one, every user session may read every channel.
func (sm *SessionManager) SetChannelAuthorizer(fn ChannelAuthorizer) {
	sm.mu.Lock()
	sm.authorize = fn
	sm.mu.Unlock()
}

// canReadChannel asks the authorizer whether a user session may read
// channelID. Lookup errors deny.
func (sm *SessionManager) canReadChannel(sess *Session, channelID string) (bool, error) {
	sm.mu.RLock()
	authorize := sm.authorize
	sm.mu.RUnlock()
	if sess.Identity.Role == RoleAdmin || authorize == nil {
		return true, nil
	}
	if channelID == "" {
		return false, nil
	}
	return authorize(sess.Identity.UserID, channelID)
}

// canRead applies row-level visibility: direct messages are only visible to
// their two participants, channel messages only to members of the server.
func (sm *SessionManager) canRead(sess *Session, change protocol.Change) bool {
	if sess.Identity.Role == RoleAdmin {
		return true
	}
	switch change.Table {
	case protocol.TableDirectMessages:
		uid := sess.Identity.UserID
		return change.Fields["sender_id"] == uid || change.Fields["recipient_id"] == uid
	case protocol.TableMessages:
		ok, err := sm.canReadChannel(sess, change.Fields["channel_id"])
		if err != nil {
			sm.log.Warnw("channel authorization failed", "session", sess.ID, "error", err)
			return false
		}
		return ok
	}
	return true
}

// CreateSession registers a new session for conn
func (sm *SessionManager) CreateSession(conn *SafeConn, identity Identity) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:            sessionID,
		Identity:      identity,
		Conn:          conn,
		RemoteAddr:    conn.RemoteAddr().String(),
		send:          make(chan protocol.Envelope, sm.bufferSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]TopicSubscription),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordRealtimeSessions(count)
	}
	return sess
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// Count returns the number of connected sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// RemoveSession drops a session, its subscriptions and closes the connection
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordRealtimeSessions(count)
	}

	sess.subMu.Lock()
	tables := make(map[string]bool)
	for _, sub := range sess.subscriptions {
		tables[sub.Table] = true
	}
	sess.subscriptions = make(map[string]TopicSubscription)
	sess.subMu.Unlock()

	sm.subIndexMu.Lock()
	for table := range tables {
		sm.dropIndexLocked(table, sessionID)
	}
	sm.subIndexMu.Unlock()

	sess.close()
	sess.Conn.Close()
}

func (sm *SessionManager) dropIndexLocked(table string, sessionID uint64) {
	if subscribers := sm.tableSubscribers[table]; subscribers != nil {
		delete(subscribers, sessionID)
		if len(subscribers) == 0 {
			delete(sm.tableSubscribers, table)
		}
	}
}

// CloseAll closes all sessions
func (sm *SessionManager) CloseAll() {
	sm.mu.RLock()
	ids := make([]uint64, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.RUnlock()

	for _, id := range ids {
		if sess, ok := sm.GetSession(id); ok {
			sess.Conn.WriteClose()
		}
		sm.RemoveSession(id)
	}
}

// Subscribe adds or replaces the session's subscription for sub.Topic and
// updates the reverse index
func (sm *SessionManager) Subscribe(sess *Session, sub TopicSubscription) error {
	roles, ok := tableRoles[sub.Table]
	if !ok {
		return ErrUnknownTable
	}
	allowed := false
	for _, r := range roles {
		if r == sess.Identity.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrForbiddenTable
	}
	if sub.Table == protocol.TableMessages && sess.Identity.Role != RoleAdmin {
		if sub.Filter == nil || sub.Filter.Column != "channel_id" {
			return ErrChannelFilterRequired
		}
		ok, err := sm.canReadChannel(sess, sub.Filter.Value)
		if err != nil {
			return fmt.Errorf("authorize channel: %w", err)
		}
		if !ok {
			return ErrNotMember
		}
	}

	sess.subMu.Lock()
	prev, replacing := sess.subscriptions[sub.Topic]
	if !replacing && sm.maxSubscriptions > 0 && len(sess.subscriptions) >= sm.maxSubscriptions {
		sess.subMu.Unlock()
		return ErrTooManySubscriptions
	}
	sess.subscriptions[sub.Topic] = sub
	stillUsesPrev := false
	if replacing && prev.Table != sub.Table {
		for _, other := range sess.subscriptions {
			if other.Table == prev.Table {
				stillUsesPrev = true
				break
			}
		}
	}
	sess.subMu.Unlock()

	sm.subIndexMu.Lock()
	if sm.tableSubscribers[sub.Table] == nil {
		sm.tableSubscribers[sub.Table] = make(map[uint64]*Session)
	}
	sm.tableSubscribers[sub.Table][sess.ID] = sess
	if replacing && prev.Table != sub.Table && !stillUsesPrev {
		sm.dropIndexLocked(prev.Table, sess.ID)
	}
	sm.subIndexMu.Unlock()
	return nil
}

// Unsubscribe removes the session's subscription for topic and updates the
// reverse index. Returns false if the session was not subscribed.
func (sm *SessionManager) Unsubscribe(sess *Session, topic string) bool {
	sess.subMu.Lock()
	sub, ok := sess.subscriptions[topic]
	if !ok {
		sess.subMu.Unlock()
		return false
	}
	delete(sess.subscriptions, topic)
	tableInUse := false
	for _, other := range sess.subscriptions {
		if other.Table == sub.Table {
			tableInUse = true
			break
		}
	}
	sess.subMu.Unlock()

	if !tableInUse {
		sm.subIndexMu.Lock()
		sm.dropIndexLocked(sub.Table, sess.ID)
		sm.subIndexMu.Unlock()
	}
	return true
}

// getTableSubscribers returns all sessions with at least one subscription on table
func (sm *SessionManager) getTableSubscribers(table string) []*Session {
	sm.subIndexMu.RLock()
	defer sm.subIndexMu.RUnlock()

	subscribers := sm.tableSubscribers[table]
	if len(subscribers) == 0 {
		return nil
	}
	result := make([]*Session, 0, len(subscribers))
	for _, sess := range subscribers {
		result = append(result, sess)
	}
	return result
}

// Publish fans a committed insert out to every matching subscription. A
// session whose buffer is full loses the event; other sessions are unaffected.
func (sm *SessionManager) Publish(change protocol.Change) {
	subscribers := sm.getTableSubscribers(change.Table)
	if len(subscribers) == 0 {
		return
	}

	// Encode once, share the payload across all recipients
	data, err := json.Marshal(protocol.InsertEvent{Table: change.Table, Record: change.Record})
	if err != nil {
		sm.log.Errorw("encode change", "table", change.Table, "error", err)
		return
	}

	for _, sess := range subscribers {
		if !sm.canRead(sess, change) {
			continue
		}
		sess.subMu.RLock()
		var topics []string
		for _, sub := range sess.subscriptions {
			if sub.Table == change.Table && sub.Filter.Matches(change.Fields) {
				topics = append(topics, sub.Topic)
			}
		}
		sess.subMu.RUnlock()

		for _, topic := range topics {
			env := protocol.Envelope{Type: protocol.TypeInsert, Topic: topic, Data: data}
			if sess.enqueue(env) {
				if sm.metrics != nil {
					sm.metrics.RecordEventDelivered(change.Table)
				}
				continue
			}
			sm.log.Debugw("dropping event for slow session", "session", sess.ID, "topic", topic)
			if sm.metrics != nil {
				sm.metrics.RecordEventDropped(change.Table)
			}
		}
	}
}
