package client

import (
	"context"
	"io"
	"sync"
)

// ViewKind is the selector's state.
type ViewKind int

const (
	NoneSelected ViewKind = iota
	ServerSelected
	ChannelSelected
	Home
	DMSelected
)

func (k ViewKind) String() string {
	switch k {
	case ServerSelected:
		return "server"
	case ChannelSelected:
		return "channel"
	case Home:
		return "home"
	case DMSelected:
		return "dm"
	default:
		return "none"
	}
}

// View is what the user is looking at.
type View struct {
	Kind      ViewKind
	ServerID  string
	ChannelID string
	PeerID    string
}

// Key returns the conversation shown in the view, if any.
func (v View) Key() (ConversationKey, bool) {
	switch v.Kind {
	case ChannelSelected:
		return ChannelKey(v.ChannelID), true
	case DMSelected:
		return DMKey(v.PeerID), true
	}
	return ConversationKey{}, false
}

// HistoryLoader loads a conversation's messages.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, key ConversationKey) []Message
}

// LiveSource streams new messages of a conversation.
type LiveSource interface {
	Subscribe(ctx context.Context, key ConversationKey, onMessage func(Message)) (*Handle, error)
}

// Selector owns the current view, its message list and at most one live
// subscription. Every transition into or out of a conversation closes the
// held subscription, then loads history, then subscribes. Results from a
// superseded transition are discarded.
type Selector struct {
	history HistoryLoader
	live    LiveSource
	notices *Notices

	mu       sync.Mutex
	view     View
	gen      uint64
	handle   io.Closer
	messages []Message
	onChange func()
}

// NewSelector creates a selector in the NoneSelected state. notices may be nil.
func NewSelector(history HistoryLoader, live LiveSource, notices *Notices) *Selector {
	return &Selector{history: history, live: live, notices: notices}
}

// SetOnChange registers fn to be called after the view or message list
// changes. fn runs without the selector lock held.
func (s *Selector) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// View returns the current view.
func (s *Selector) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Messages returns a copy of the current message list.
func (s *Selector) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SelectServer shows a server's channel list. Any open conversation is closed.
func (s *Selector) SelectServer(ctx context.Context, serverID string) error {
	return s.transition(ctx, View{Kind: ServerSelected, ServerID: serverID})
}

// SelectChannel opens a channel conversation. Any DM is cleared.
func (s *Selector) SelectChannel(ctx context.Context, serverID, channelID string) error {
	return s.transition(ctx, View{Kind: ChannelSelected, ServerID: serverID, ChannelID: channelID})
}

// GoHome shows the DM list. Server and channel are cleared.
func (s *Selector) GoHome(ctx context.Context) error {
	return s.transition(ctx, View{Kind: Home})
}

// SelectDM opens the conversation with peerID. Any channel is cleared.
func (s *Selector) SelectDM(ctx context.Context, peerID string) error {
	return s.transition(ctx, View{Kind: DMSelected, PeerID: peerID})
}

// Reload reloads the current conversation's history and resubscribes.
func (s *Selector) Reload(ctx context.Context) error {
	return s.transition(ctx, s.View())
}

// Close drops the live subscription and the message list. The view is kept.
func (s *Selector) Close() error {
	s.mu.Lock()
	s.gen++
	old := s.handle
	s.handle = nil
	s.messages = nil
	s.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *Selector) transition(ctx context.Context, next View) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.handle
	s.handle = nil
	s.view = next
	s.messages = nil
	s.mu.Unlock()
	s.changed()

	if old != nil {
		old.Close()
	}

	key, ok := next.Key()
	if !ok {
		return nil
	}

	msgs := s.history.LoadHistory(ctx, key)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.messages = msgs
	s.mu.Unlock()
	s.changed()

	h, err := s.live.Subscribe(ctx, key, func(m Message) { s.appendLive(gen, m) })
	if err != nil {
		f := classify("subscribe", TransientReadFailure, err)
		if s.notices != nil {
			s.notices.PostError(f)
		}
		return f
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		h.Close()
		return nil
	}
	s.handle = h
	s.mu.Unlock()
	return nil
}

// appendLive inserts a realtime message if its transition is still current
func (s *Selector) appendLive(gen uint64, m Message) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	var added bool
	s.messages, added = InsertOrdered(s.messages, m)
	s.mu.Unlock()
	if added {
		s.changed()
	}
}

func (s *Selector) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
