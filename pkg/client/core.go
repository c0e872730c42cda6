// Package client is the Chorus client core: history loading, live
// subscriptions, conversation selection and writes, independent of any UI.
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Core wires the client components for one signed-in session.
type Core struct {
	Session    *Session
	Backend    Backend
	Notices    *Notices
	Profiles   *ProfileResolver
	Store      *MessageStore
	Subscriber *Subscriber
	Selector   *Selector
	Sender     *Sender
	Navigator  *Navigator

	closeFeed func() error
	feedDone  <-chan struct{}
}

// NewCore builds the components over backend and feed.
func NewCore(backend Backend, feed Feed, sess *Session, log *zap.SugaredLogger) *Core {
	notices := NewNotices(0)
	profiles := NewProfileResolver(backend)
	store := NewMessageStore(backend, profiles, notices, log)
	subscriber := NewSubscriber(feed, profiles, sess.UserID, log)
	return &Core{
		Session:    sess,
		Backend:    backend,
		Notices:    notices,
		Profiles:   profiles,
		Store:      store,
		Subscriber: subscriber,
		Selector:   NewSelector(store, subscriber, notices),
		Sender:     NewSender(backend, notices),
		Navigator:  NewNavigator(backend, notices),
	}
}

// Connect builds a Core against the backend at baseURL.
func Connect(ctx context.Context, baseURL string, sess *Session, log *zap.SugaredLogger) (*Core, error) {
	feedClient, err := DialFeed(ctx, baseURL, sess, log)
	if err != nil {
		return nil, fmt.Errorf("connect change feed: %w", err)
	}
	core := NewCore(NewHTTPBackend(baseURL, sess.AccessToken, log), RealtimeFeed{Client: feedClient}, sess, log)
	core.closeFeed = feedClient.Close
	core.feedDone = feedClient.Done()
	return core, nil
}

// Disconnected is closed when the change feed connection drops. It is nil
// for a Core built over an in-memory feed.
func (c *Core) Disconnected() <-chan struct{} {
	return c.feedDone
}

// Close drops the live subscription and the change feed connection.
func (c *Core) Close() error {
	c.Selector.Close()
	if c.closeFeed != nil {
		return c.closeFeed()
	}
	return nil
}
