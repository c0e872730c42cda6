package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"go.uber.org/zap"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var (
	loremWords    = strings.Fields(loremIpsum)
	usernameWords = []string{
		"amber", "badger", "cobalt", "dune", "ember", "falcon", "glacier", "harbor",
		"indigo", "juniper", "kestrel", "lantern", "meadow", "nimbus", "orchid", "pepper",
		"quartz", "raven", "saffron", "thistle", "umber", "velvet", "willow", "zephyr",
	}
)

// generateUsername combines fragments of two random words. The id suffix
// keeps names unique within one run.
func generateUsername(id int) string {
	frag := func(word string) string {
		n := 3
		if len(word) > 6 {
			n = 3 + rand.Intn(4) // 3-6 chars
		}
		if n > len(word) {
			n = len(word)
		}
		return word[:n]
	}
	word1 := usernameWords[rand.Intn(len(usernameWords))]
	word2 := usernameWords[rand.Intn(len(usernameWords))]
	return fmt.Sprintf("%s%s%d", frag(word1), frag(word2), id)
}

func randomContent() string {
	wordCount := 5 + rand.Intn(16) // 5-20 words
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Target is the server and channel every bot joins.
type Target struct {
	ServerID   string
	ChannelID  string
	InviteCode string
}

// prepareTarget signs up a host account that owns the load test server.
func prepareTarget(ctx context.Context, serverURL, serverName string, log *zap.SugaredLogger) (Target, error) {
	host := fmt.Sprintf("loadhost%d", rand.Intn(1_000_000))
	sess, err := client.NewAuthClient(serverURL, log).SignUp(ctx, host, randomPassword())
	if err != nil {
		return Target{}, fmt.Errorf("sign up host: %w", err)
	}
	core, err := client.Connect(ctx, serverURL, sess, log)
	if err != nil {
		return Target{}, fmt.Errorf("connect host: %w", err)
	}
	defer core.Close()

	srv, err := core.Sender.CreateServer(ctx, serverName)
	if err != nil {
		return Target{}, fmt.Errorf("create server: %w", err)
	}
	channel, ok := client.FirstTextChannel(core.Navigator.Channels(ctx, srv.ID))
	if !ok {
		return Target{}, errors.New("new server has no text channel")
	}
	return Target{ServerID: srv.ID, ChannelID: channel.ID, InviteCode: srv.InviteCode}, nil
}

func randomPassword() string {
	return fmt.Sprintf("pw-%d-%d", time.Now().UnixNano(), rand.Int63())
}

// BotClient is one simulated user posting into the target channel.
type BotClient struct {
	id        int
	username  string
	core      *client.Core
	handle    *client.Handle
	stats     *Stats
	log       *zap.SugaredLogger
	channelID string

	pendingMu sync.Mutex
	pending   map[string]time.Time // content of in-flight posts
}

func NewBotClient(id int, stats *Stats, log *zap.SugaredLogger) *BotClient {
	return &BotClient{
		id:       id,
		username: generateUsername(id),
		stats:    stats,
		log:      log,
		pending:  make(map[string]time.Time),
	}
}

// Connect signs the bot up and opens its realtime feed.
func (bc *BotClient) Connect(ctx context.Context, serverURL string) error {
	sess, err := client.NewAuthClient(serverURL, bc.log).SignUp(ctx, bc.username, randomPassword())
	if err != nil {
		bc.stats.setupSignUpFailed.Add(1)
		return fmt.Errorf("sign up %s: %w", bc.username, err)
	}
	core, err := client.Connect(ctx, serverURL, sess, bc.log)
	if err != nil {
		bc.stats.setupConnectFailed.Add(1)
		return fmt.Errorf("connect: %w", err)
	}
	bc.core = core
	return nil
}

// Setup joins the target server and subscribes to its channel.
func (bc *BotClient) Setup(ctx context.Context, target Target) error {
	if _, err := bc.core.Sender.JoinServer(ctx, target.InviteCode); err != nil {
		bc.stats.setupJoinFailed.Add(1)
		return fmt.Errorf("join server: %w", err)
	}
	bc.channelID = target.ChannelID

	h, err := bc.core.Subscriber.Subscribe(ctx, client.ChannelKey(target.ChannelID), bc.onMessage)
	if err != nil {
		bc.stats.setupSubscribeFailed.Add(1)
		return fmt.Errorf("subscribe: %w", err)
	}
	bc.handle = h
	return nil
}

func (bc *BotClient) onMessage(m client.Message) {
	if m.AuthorID != bc.core.Session.UserID {
		bc.stats.othersReceived.Add(1)
		return
	}
	bc.pendingMu.Lock()
	start, ok := bc.pending[m.Content]
	delete(bc.pending, m.Content)
	bc.pendingMu.Unlock()
	if ok {
		bc.stats.recordEcho(time.Since(start).Microseconds())
	}
}

func (bc *BotClient) PostRandomMessage(ctx context.Context) error {
	content := randomContent()
	start := time.Now()

	// Registered first, the echo can beat the insert response
	bc.pendingMu.Lock()
	bc.pending[content] = start
	bc.pendingMu.Unlock()

	err := bc.core.Sender.SendChannelMessage(ctx, bc.channelID, content)
	if err == nil {
		bc.stats.recordSuccess(time.Since(start).Microseconds())
		return nil
	}

	bc.pendingMu.Lock()
	delete(bc.pending, content)
	bc.pendingMu.Unlock()

	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
		bc.stats.recordRateLimited()
	case client.KindOf(err) == client.AuthorizationFailure:
		bc.stats.recordAuthFailure()
	default:
		bc.stats.recordPostFailure()
	}
	bc.log.Debugw("post failed", "bot", bc.id, "error", err)
	return err
}

// FetchMessages reads the channel history the way a client opening it would.
func (bc *BotClient) FetchMessages(ctx context.Context) error {
	if _, err := bc.core.Backend.ListChannelMessages(ctx, bc.channelID); err != nil {
		bc.stats.recordFetchFailure()
		return fmt.Errorf("list messages: %w", err)
	}
	return nil
}

// Run posts until duration passes, ctx is done or the feed drops.
func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.Close()
	defer func() {
		if r := recover(); r != nil {
			bc.log.Errorw("bot panic", "bot", bc.id, "panic", r)
		}
	}()

	// Initial fetch failures are counted, not fatal
	_ = bc.FetchMessages(ctx)

	endTime := time.Now().Add(duration)
	for iteration := 1; time.Now().Before(endTime); iteration++ {
		_ = bc.PostRandomMessage(ctx)

		// Refresh history every 3 iterations
		if iteration%3 == 0 {
			_ = bc.FetchMessages(ctx)
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
			return
		case <-bc.core.Disconnected():
			bc.stats.recordDisconnection()
			return
		case <-time.After(delay):
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(shutdownDelay):
		}
	}
}

func (bc *BotClient) Close() {
	if bc.handle != nil {
		bc.handle.Close()
	}
	if bc.core != nil {
		bc.core.Close()
	}
}
