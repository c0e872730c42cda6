package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed indicates the change feed connection is gone.
var ErrClientClosed = errors.New("realtime connection closed")

const eventBuffer = 256

// Client is a change feed connection that multiplexes subscriptions by topic.
type Client struct {
	conn *SafeConn
	log  *zap.SugaredLogger

	nextRef atomic.Uint64

	mu      sync.Mutex
	subs    map[string]*Subscription          // topic -> subscription
	pending map[string]chan protocol.Envelope // ref -> reply

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the change feed at url, authenticating with token.
func Dial(ctx context.Context, url, token string, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	wsConn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	c := &Client{
		conn:    NewSafeConn(wsConn),
		log:     log,
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan protocol.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection and every subscription on it.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	c.conn.WriteClose()
	return c.conn.Close()
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Subscribe registers topic on the server and waits for the acknowledgement.
func (c *Client) Subscribe(ctx context.Context, topic string, req protocol.SubscribeRequest) (*Subscription, error) {
	sub := &Subscription{
		Topic:  topic,
		client: c,
		events: make(chan protocol.InsertEvent, eventBuffer),
		done:   make(chan struct{}),
	}

	// Register before acking so no insert sent right after the ack is lost.
	c.mu.Lock()
	if prev, ok := c.subs[topic]; ok {
		prev.markClosed()
	}
	c.subs[topic] = sub
	c.mu.Unlock()

	reply, err := c.request(ctx, protocol.TypeSubscribe, topic, req)
	if err != nil {
		c.forget(sub)
		return nil, err
	}
	if reply.Type == protocol.TypeError {
		c.forget(sub)
		return nil, replyError(reply)
	}
	return sub, nil
}

// request sends an envelope and waits for the reply carrying the same ref
func (c *Client) request(ctx context.Context, typ, topic string, data any) (protocol.Envelope, error) {
	ref := strconv.FormatUint(c.nextRef.Add(1), 10)
	env, err := protocol.NewEnvelope(typ, ref, topic, data)
	if err != nil {
		return protocol.Envelope{}, err
	}

	replyCh := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[ref] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.conn.WriteEnvelope(env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-c.done:
		return protocol.Envelope{}, c.err
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func replyError(env protocol.Envelope) error {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Message == "" {
		return errors.New("realtime: request rejected")
	}
	return fmt.Errorf("realtime: %s", payload.Message)
}

// forget removes sub from the topic map if it is still the registered one
func (c *Client) forget(sub *Subscription) {
	sub.markClosed()
	c.mu.Lock()
	if c.subs[sub.Topic] == sub {
		delete(c.subs, sub.Topic)
	}
	c.mu.Unlock()
}

// readLoop routes replies to waiting requests and inserts to subscriptions
func (c *Client) readLoop() {
	for {
		env, err := c.conn.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugw("realtime connection lost", "error", err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClientClosed, err))
			return
		}

		if env.Type == protocol.TypeInsert {
			c.dispatch(env)
			continue
		}

		if env.Ref != "" {
			c.mu.Lock()
			replyCh, ok := c.pending[env.Ref]
			c.mu.Unlock()
			if ok {
				replyCh <- env
				continue
			}
		}
		if env.Type == protocol.TypeError {
			c.log.Debugw("realtime error", "topic", env.Topic, "error", replyError(env))
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	sub, ok := c.subs[env.Topic]
	c.mu.Unlock()
	if !ok {
		return
	}

	var event protocol.InsertEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		c.log.Debugw("malformed insert", "topic", env.Topic, "error", err)
		return
	}

	select {
	case sub.events <- event:
	case <-sub.done:
	case <-c.done:
	}
}

// Subscription is one topic on a Client. Events arrive in server order.
type Subscription struct {
	Topic string

	client    *Client
	events    chan protocol.InsertEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Events delivers inserts for the topic.
func (s *Subscription) Events() <-chan protocol.InsertEvent {
	return s.events
}

// Done is closed when the subscription is closed or replaced.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Closed is the connection-level done channel.
func (s *Subscription) Closed() <-chan struct{} {
	return s.client.done
}

func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Close stops delivery and tells the server to drop the topic. Safe to call
// more than once.
func (s *Subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.client.forget(s)

	env, err := protocol.NewEnvelope(protocol.TypeUnsubscribe, "", s.Topic, nil)
	if err != nil {
		return err
	}
	select {
	case <-s.client.done:
		return nil
	default:
	}
	return s.client.conn.WriteEnvelope(env)
}
