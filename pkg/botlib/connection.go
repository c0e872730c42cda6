package botlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/aeolun/chorus/pkg/client"
	"go.uber.org/zap"
)

// Connector opens a client core for the bot. The default signs in with the
// configured credentials and dials the realtime feed.
type Connector func(ctx context.Context) (*client.Core, error)

func defaultConnector(config Config) Connector {
	return func(ctx context.Context) (*client.Core, error) {
		auth := client.NewAuthClient(config.ServerURL, config.Logger)
		sess, err := auth.SignIn(ctx, config.Username, config.Password)
		if err != nil {
			return nil, fmt.Errorf("sign in as %s: %w", config.Username, err)
		}
		return client.Connect(ctx, config.ServerURL, sess, config.Logger)
	}
}

// connection holds the bot's core and one subscription per watched channel.
type connection struct {
	core *client.Core
	log  *zap.SugaredLogger

	mu      sync.Mutex
	handles []*client.Handle
	closed  bool
}

func newConnection(core *client.Core, log *zap.SugaredLogger) *connection {
	return &connection{core: core, log: log}
}

// self is the signed-in bot account
func (c *connection) self() *client.Session {
	return c.core.Session
}

// watch subscribes to new messages in ch
func (c *connection) watch(ctx context.Context, ch Channel, onMessage func(client.Message)) error {
	h, err := c.core.Subscriber.Subscribe(ctx, client.ChannelKey(ch.ID), onMessage)
	if err != nil {
		return fmt.Errorf("watch %s: %w", ch.Label(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		h.Close()
		return fmt.Errorf("watch %s: connection closed", ch.Label())
	}
	c.handles = append(c.handles, h)
	return nil
}

// disconnected is closed when the realtime feed drops. Nil for in-memory feeds.
func (c *connection) disconnected() <-chan struct{} {
	return c.core.Disconnected()
}

func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := c.handles
	c.handles = nil
	c.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			c.log.Debugw("close subscription", "key", h.Key().String(), "error", err)
		}
	}
	return c.core.Close()
}
