package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aeolun/chorus/pkg/protocol"
)

// MockBackend is an in-memory Backend for tests. Inserts are echoed to an
// attached MockFeed the way the real backend's change feed does.
type MockBackend struct {
	mu sync.Mutex

	selfID   string
	profiles map[string]protocol.Profile
	messages []protocol.Message
	dms      []protocol.DirectMessage
	servers  []protocol.Server
	channels []protocol.Channel
	flags    []protocol.FlagRequest
	feed     *MockFeed
	clock    int64
	nextID   int

	calls map[string]int
	errs  map[string]error
}

// NewMockBackend creates a backend acting as the user selfID.
func NewMockBackend(selfID string) *MockBackend {
	return &MockBackend{
		selfID:   selfID,
		profiles: make(map[string]protocol.Profile),
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		clock:    1000,
	}
}

// SetFeed attaches a feed that receives every insert.
func (b *MockBackend) SetFeed(feed *MockFeed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feed = feed
}

// SetError makes method fail with err until cleared with a nil err.
func (b *MockBackend) SetError(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, method)
		return
	}
	b.errs[method] = err
}

// Calls returns how often method was invoked.
func (b *MockBackend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// TotalCalls returns the number of calls to any method.
func (b *MockBackend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// Flags returns every report made.
func (b *MockBackend) Flags() []protocol.FlagRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.FlagRequest(nil), b.flags...)
}

// AddProfile stores a profile.
func (b *MockBackend) AddProfile(p protocol.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[p.ID] = p
}

// AddMessage stores a channel message without echoing it.
func (b *MockBackend) AddMessage(row protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, row)
}

// AddDirectMessage stores a direct message without echoing it.
func (b *MockBackend) AddDirectMessage(row protocol.DirectMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dms = append(b.dms, row)
}

// AddServer stores a server and its channels.
func (b *MockBackend) AddServer(srv protocol.Server, channels ...protocol.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers = append(b.servers, srv)
	b.channels = append(b.channels, channels...)
}

// begin counts a call and returns its injected error
func (b *MockBackend) begin(method string) error {
	b.calls[method]++
	return b.errs[method]
}

func (b *MockBackend) id(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *MockBackend) ListChannelMessages(ctx context.Context, channelID string) ([]protocol.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("ListChannelMessages"); err != nil {
		return nil, err
	}
	var rows []protocol.Message
	for _, m := range b.messages {
		if m.ChannelID == channelID {
			rows = append(rows, m)
		}
	}
	return rows, nil
}

func (b *MockBackend) ListDirectMessages(ctx context.Context, peerID string) ([]protocol.DirectMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("ListDirectMessages"); err != nil {
		return nil, err
	}
	var rows []protocol.DirectMessage
	for _, dm := range b.dms {
		if MatchesPair(dm, b.selfID, peerID) {
			rows = append(rows, dm)
		}
	}
	return rows, nil
}

func (b *MockBackend) InsertMessage(ctx context.Context, channelID, content string) (*protocol.Message, error) {
	b.mu.Lock()
	if err := b.begin("InsertMessage"); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.clock++
	row := protocol.Message{ID: b.id("m"), ChannelID: channelID, UserID: b.selfID, Content: content, CreatedAt: b.clock, UpdatedAt: b.clock}
	b.messages = append(b.messages, row)
	feed := b.feed
	b.mu.Unlock()

	if feed != nil {
		feed.Publish(protocol.TableMessages, row)
	}
	return &row, nil
}

func (b *MockBackend) InsertDirectMessage(ctx context.Context, recipientID, content string) (*protocol.DirectMessage, error) {
	b.mu.Lock()
	if err := b.begin("InsertDirectMessage"); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.clock++
	row := protocol.DirectMessage{ID: b.id("d"), SenderID: b.selfID, RecipientID: recipientID, Content: content, CreatedAt: b.clock, UpdatedAt: b.clock}
	b.dms = append(b.dms, row)
	feed := b.feed
	b.mu.Unlock()

	if feed != nil {
		feed.Publish(protocol.TableDirectMessages, row)
	}
	return &row, nil
}

func (b *MockBackend) FlagMessage(ctx context.Context, req protocol.FlagRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("FlagMessage"); err != nil {
		return err
	}
	b.flags = append(b.flags, req)
	return nil
}

func (b *MockBackend) GetProfiles(ctx context.Context, ids []string) ([]protocol.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("GetProfiles"); err != nil {
		return nil, err
	}
	var rows []protocol.Profile
	for _, id := range ids {
		if p, ok := b.profiles[id]; ok {
			rows = append(rows, p)
		}
	}
	return rows, nil
}

func (b *MockBackend) GetProfile(ctx context.Context, id string) (*protocol.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("GetProfile"); err != nil {
		return nil, err
	}
	p, ok := b.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (b *MockBackend) ListDMPeers(ctx context.Context) ([]protocol.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("ListDMPeers"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var rows []protocol.Profile
	for _, dm := range b.dms {
		peer := ""
		switch b.selfID {
		case dm.SenderID:
			peer = dm.RecipientID
		case dm.RecipientID:
			peer = dm.SenderID
		}
		if peer == "" || seen[peer] {
			continue
		}
		seen[peer] = true
		if p, ok := b.profiles[peer]; ok {
			rows = append(rows, p)
		}
	}
	return rows, nil
}

func (b *MockBackend) ListServers(ctx context.Context) ([]protocol.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("ListServers"); err != nil {
		return nil, err
	}
	return append([]protocol.Server(nil), b.servers...), nil
}

func (b *MockBackend) GetServer(ctx context.Context, id string) (*protocol.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("GetServer"); err != nil {
		return nil, err
	}
	for _, s := range b.servers {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, &APIError{Status: 404, Message: "server not found"}
}

func (b *MockBackend) ListChannels(ctx context.Context, serverID string) ([]protocol.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("ListChannels"); err != nil {
		return nil, err
	}
	var rows []protocol.Channel
	for _, ch := range b.channels {
		if ch.ServerID == serverID {
			rows = append(rows, ch)
		}
	}
	return rows, nil
}

func (b *MockBackend) CreateServer(ctx context.Context, name string) (*protocol.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("CreateServer"); err != nil {
		return nil, err
	}
	b.clock++
	srv := protocol.Server{ID: b.id("s"), Name: name, OwnerID: b.selfID, InviteCode: b.id("inv"), CreatedAt: b.clock}
	b.servers = append(b.servers, srv)
	b.channels = append(b.channels, protocol.Channel{
		ID: b.id("c"), ServerID: srv.ID, Name: "general", Type: protocol.ChannelTypeText, CreatedAt: b.clock,
	})
	return &srv, nil
}

func (b *MockBackend) JoinServer(ctx context.Context, inviteCode string) (*protocol.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("JoinServer"); err != nil {
		return nil, err
	}
	for _, s := range b.servers {
		if s.InviteCode == inviteCode {
			return &s, nil
		}
	}
	return nil, &APIError{Status: 404, Message: "invalid invite code"}
}

// MockFeed is an in-memory Feed. Publish delivers to every open
// subscription whose table and filter match, like the real change feed.
type MockFeed struct {
	mu   sync.Mutex
	subs []*mockSubscription
	log  []string
	err  error
}

// NewMockFeed creates an empty feed.
func NewMockFeed() *MockFeed {
	return &MockFeed{}
}

// SetError makes Subscribe fail with err.
func (f *MockFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Log returns "subscribe:<topic>" and "close:<topic>" entries in call order.
func (f *MockFeed) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// Open returns the number of open subscriptions.
func (f *MockFeed) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *MockFeed) Subscribe(ctx context.Context, topic string, req protocol.SubscribeRequest) (FeedSubscription, error) {
	filter, err := protocol.ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &mockSubscription{
		feed:   f,
		topic:  topic,
		table:  req.Table,
		filter: filter,
		events: make(chan protocol.InsertEvent, 64),
		done:   make(chan struct{}),
	}
	f.subs = append(f.subs, sub)
	f.log = append(f.log, "subscribe:"+topic)
	return sub, nil
}

// Publish delivers row as an insert into table.
func (f *MockFeed) Publish(table string, row any) {
	record, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	var raw map[string]any
	json.Unmarshal(record, &raw)
	fields := make(map[string]string)
	for col := range protocol.FilterableColumns {
		if v, ok := raw[col].(string); ok {
			fields[col] = v
		}
	}

	f.mu.Lock()
	subs := append([]*mockSubscription(nil), f.subs...)
	f.mu.Unlock()

	ev := protocol.InsertEvent{Table: table, Record: record}
	for _, sub := range subs {
		if sub.table != table || !sub.filter.Matches(fields) {
			continue
		}
		select {
		case sub.events <- ev:
		case <-sub.done:
		}
	}
}

type mockSubscription struct {
	feed   *MockFeed
	topic  string
	table  string
	filter *protocol.Filter
	events chan protocol.InsertEvent
	done   chan struct{}
	once   sync.Once
}

func (s *mockSubscription) Events() <-chan protocol.InsertEvent { return s.events }
func (s *mockSubscription) Done() <-chan struct{}               { return s.done }

func (s *mockSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		for i, sub := range s.feed.subs {
			if sub == s {
				s.feed.subs = append(s.feed.subs[:i], s.feed.subs[i+1:]...)
				break
			}
		}
		s.feed.log = append(s.feed.log, "close:"+s.topic)
	})
	return nil
}
