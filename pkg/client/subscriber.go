package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

// Subscriber opens one change feed subscription per conversation.
type Subscriber struct {
	feed     Feed
	profiles *ProfileResolver
	selfID   string
	log      *zap.SugaredLogger
}

// NewSubscriber creates a subscriber for the signed-in user selfID.
func NewSubscriber(feed Feed, profiles *ProfileResolver, selfID string, log *zap.SugaredLogger) *Subscriber {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Subscriber{feed: feed, profiles: profiles, selfID: selfID, log: log}
}

// Topic returns the change feed topic for key.
func (s *Subscriber) Topic(key ConversationKey) string {
	if key.IsDM() {
		return "dms:" + s.selfID + ":" + key.PeerID
	}
	return "messages:" + key.ChannelID
}

// Subscribe streams new messages in key to onMessage, in feed order, until
// the returned handle is closed.
//
// Channel subscriptions are filtered by the server. Direct message inserts
// cannot be filtered by an unordered pair server-side, so every DM event is
// checked with MatchesPair before delivery.
func (s *Subscriber) Subscribe(ctx context.Context, key ConversationKey, onMessage func(Message)) (*Handle, error) {
	if key.IsZero() {
		return nil, ErrNoConversation
	}

	req := protocol.SubscribeRequest{Table: protocol.TableMessages}
	if key.IsDM() {
		req.Table = protocol.TableDirectMessages
	} else {
		req.Filter = protocol.EqFilter("channel_id", key.ChannelID).String()
	}

	sub, err := s.feed.Subscribe(ctx, s.Topic(key), req)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		key:    key,
		sub:    sub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(pumpCtx, h, onMessage)
	return h, nil
}

// accept decodes an insert and reports whether it belongs to key
func (s *Subscriber) accept(key ConversationKey, ev protocol.InsertEvent) (Message, bool) {
	if key.IsDM() {
		if ev.Table != protocol.TableDirectMessages {
			return Message{}, false
		}
		var row protocol.DirectMessage
		if err := json.Unmarshal(ev.Record, &row); err != nil {
			s.log.Debugw("malformed direct message event", "error", err)
			return Message{}, false
		}
		if !MatchesPair(row, s.selfID, key.PeerID) {
			return Message{}, false
		}
		return FromDirectRow(row), true
	}

	if ev.Table != protocol.TableMessages {
		return Message{}, false
	}
	var row protocol.Message
	if err := json.Unmarshal(ev.Record, &row); err != nil {
		s.log.Debugw("malformed message event", "error", err)
		return Message{}, false
	}
	if row.ChannelID != key.ChannelID {
		return Message{}, false
	}
	return FromChannelRow(row), true
}

func (s *Subscriber) pump(ctx context.Context, h *Handle, onMessage func(Message)) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.sub.Done():
			return
		case ev := <-h.sub.Events():
			msg, ok := s.accept(h.key, ev)
			if !ok {
				continue
			}
			author, err := s.profiles.ResolveOne(ctx, msg.AuthorID)
			if err != nil {
				s.log.Debugw("sender lookup failed", "author", msg.AuthorID, "error", err)
			}
			msg.Author = author
			if !h.deliver(onMessage, msg) {
				return
			}
		}
	}
}

// Handle controls one open subscription.
type Handle struct {
	key    ConversationKey
	sub    FeedSubscription
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex // held for reading while a callback runs
	closed    bool
	closeOnce sync.Once
}

// Key returns the conversation the handle streams.
func (h *Handle) Key() ConversationKey {
	return h.key
}

func (h *Handle) deliver(onMessage func(Message), msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	onMessage(msg)
	return true
}

// Close unsubscribes. It waits for a callback already in progress, and no
// callback starts after it returns. Safe to call more than once; must not
// be called from inside the callback.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		err = h.sub.Close()
	})
	return err
}

// Done is closed once the handle's delivery goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
