package botlib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

// ErrNoChannels is returned when none of the configured channels exist.
var ErrNoChannels = errors.New("no channels to watch")

// MessageHandler is called when a new message is received.
type MessageHandler func(ctx *Context, msg *Message)

// Config holds the bot configuration.
type Config struct {
	// Chorus server base URL (http://host:port)
	ServerURL string

	// Account the bot signs in as
	Username string
	Password string

	// Invite codes to redeem on start, for servers the bot is not in yet
	Invites []string

	// Channels to watch, as "name" (in every server) or "server/name".
	// Empty watches every text channel of every server the bot is in.
	Channels []string

	// Logger for debug output (optional, defaults to a no-op logger)
	Logger *zap.SugaredLogger

	// ResponseTimeout for backend calls made by handlers (default: 10s)
	ResponseTimeout time.Duration

	// Connect overrides how the client core is built (tests, custom transports)
	Connect Connector
}

// Bot represents a Chorus bot instance.
type Bot struct {
	config Config
	conn   *connection
	logger *zap.SugaredLogger

	// Channel state
	channels   map[string]Channel // ID -> channel
	channelsMu sync.RWMutex

	// Handlers
	onMessage MessageHandler
	onMention MessageHandler

	// Lifecycle
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Bot with the given configuration.
func New(config Config) *Bot {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = 10 * time.Second
	}
	if config.Connect == nil {
		config.Connect = defaultConnector(config)
	}

	return &Bot{
		config:   config,
		logger:   config.Logger,
		channels: make(map[string]Channel),
		stopCh:   make(chan struct{}),
	}
}

// OnMessage registers a handler for all new messages.
func (b *Bot) OnMessage(handler MessageHandler) {
	b.onMessage = handler
}

// OnMention registers a handler for messages that mention the bot. Mentions
// go only to this handler when one is set.
func (b *Bot) OnMention(handler MessageHandler) {
	b.onMention = handler
}

// Start connects, redeems invites and subscribes to the configured
// channels. Messages are delivered to the handlers once it returns.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Infow("connecting", "server", b.config.ServerURL, "username", b.config.Username)
	core, err := b.config.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	b.conn = newConnection(core, b.logger)

	for _, code := range b.config.Invites {
		srv, err := core.Sender.JoinServer(ctx, code)
		if err != nil {
			b.logger.Warnw("invite not redeemed", "code", code, "error", err)
			continue
		}
		b.logger.Infow("joined server", "server", srv.Name)
	}

	if err := b.watchChannels(ctx); err != nil {
		b.conn.close()
		return err
	}
	b.logger.Infow("bot is running", "channels", b.Channels())
	return nil
}

// Run starts the bot and blocks until ctx is cancelled, Stop is called, or
// the realtime connection is lost.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		b.logger.Info("shutdown signal received")
	case <-b.stopCh:
		b.logger.Info("stop requested")
	case <-b.conn.disconnected():
		runErr = errors.New("realtime connection lost")
	}

	if err := b.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop gracefully stops a running bot.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Close releases the connection of a bot used through Start.
func (b *Bot) Close() error {
	return b.shutdown()
}

func (b *Bot) shutdown() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.close()
	b.logger.Info("bot stopped")
	return err
}

// Channels returns the labels of the watched channels, sorted.
func (b *Bot) Channels() []string {
	b.channelsMu.RLock()
	defer b.channelsMu.RUnlock()
	labels := make([]string, 0, len(b.channels))
	for _, ch := range b.channels {
		labels = append(labels, ch.Label())
	}
	sort.Strings(labels)
	return labels
}

// watchChannels resolves the configured channels across the bot's servers
// and subscribes to each
func (b *Bot) watchChannels(ctx context.Context) error {
	core := b.conn.core
	var available []Channel
	for _, srv := range core.Navigator.Servers(ctx) {
		for _, ch := range core.Navigator.Channels(ctx, srv.ID) {
			if ch.Type == protocol.ChannelTypeText {
				available = append(available, newChannel(srv, ch))
			}
		}
	}

	selected := available
	if len(b.config.Channels) > 0 {
		selected = nil
		for _, want := range b.config.Channels {
			found := false
			for _, ch := range available {
				if ch.matches(want) {
					selected = append(selected, ch)
					found = true
				}
			}
			if !found {
				b.logger.Warnw("channel not found", "channel", want)
			}
		}
	}

	for _, ch := range selected {
		b.channelsMu.RLock()
		_, watching := b.channels[ch.ID]
		b.channelsMu.RUnlock()
		if watching {
			continue
		}

		if err := b.conn.watch(ctx, ch, b.dispatcher(ch)); err != nil {
			b.logger.Warnw("failed to watch channel", "channel", ch.Label(), "error", err)
			continue
		}
		b.channelsMu.Lock()
		b.channels[ch.ID] = ch
		b.channelsMu.Unlock()
		b.logger.Debugw("watching channel", "channel", ch.Label(), "id", ch.ID)
	}

	if len(b.Channels()) == 0 {
		return ErrNoChannels
	}
	return nil
}

// dispatcher routes a channel's messages to the handlers. It runs on the
// subscription's goroutine, so handlers for one channel never overlap.
func (b *Bot) dispatcher(ch Channel) func(client.Message) {
	self := b.conn.self()
	return func(m client.Message) {
		// Skip our own messages
		if m.AuthorID == self.UserID {
			return
		}
		msg := newMessage(m, ch, self.Username)
		ctx := &Context{bot: b, message: msg}

		if msg.MentionsMe() && b.onMention != nil {
			b.onMention(ctx, msg)
			return
		}
		if b.onMessage != nil {
			b.onMessage(ctx, msg)
		}
	}
}

// requestContext bounds a backend call made on behalf of a handler
func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.config.ResponseTimeout)
}
