package botlib

import (
	"fmt"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
)

// Flag severities understood by the moderation console
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Context provides methods for responding to messages.
// It is passed to message handlers and provides a convenient API
// for common bot actions.
type Context struct {
	bot     *Bot
	message *Message
}

// Message returns the message that triggered this context.
func (c *Context) Message() *Message {
	return c.message
}

// Reply posts content to the channel the message came from. The reply
// reaches the bot's own subscription as an echo and is skipped there.
func (c *Context) Reply(content string) error {
	ctx, cancel := c.bot.requestContext()
	defer cancel()
	return c.bot.conn.core.Sender.SendChannelMessage(ctx, c.message.ChannelID, content)
}

// Flag reports the message to the moderators with a reason and severity.
func (c *Context) Flag(reason, severity string) error {
	if reason == "" {
		return client.ErrReasonRequired
	}
	ctx, cancel := c.bot.requestContext()
	defer cancel()
	id := c.message.ID
	err := c.bot.conn.core.Backend.FlagMessage(ctx, protocol.FlagRequest{
		MessageID: &id,
		Reason:    reason,
		Severity:  severity,
	})
	if err != nil {
		return fmt.Errorf("flag message %s: %w", id, err)
	}
	return nil
}

// FetchHistory loads the channel's messages, oldest first, with authors
// resolved.
func (c *Context) FetchHistory() []Message {
	ctx, cancel := c.bot.requestContext()
	defer cancel()
	ch := c.channel()
	rows := c.bot.conn.core.Store.LoadHistory(ctx, client.ChannelKey(ch.ID))
	out := make([]Message, len(rows))
	for i, m := range rows {
		out[i] = *newMessage(m, ch, c.BotName())
	}
	return out
}

func (c *Context) channel() Channel {
	c.bot.channelsMu.RLock()
	defer c.bot.channelsMu.RUnlock()
	if ch, ok := c.bot.channels[c.message.ChannelID]; ok {
		return ch
	}
	return Channel{ID: c.message.ChannelID, Name: c.message.ChannelName, ServerID: c.message.ServerID, ServerName: c.message.ServerName}
}

// ChannelID returns the channel ID where the message was received.
func (c *Context) ChannelID() string {
	return c.message.ChannelID
}

// Author returns the username of the message author.
func (c *Context) Author() string {
	return c.message.AuthorName
}

// BotName returns the bot's username.
func (c *Context) BotName() string {
	return c.bot.conn.self().Username
}

// Log logs a message using the bot's logger.
func (c *Context) Log(msg string, keysAndValues ...interface{}) {
	c.bot.logger.Infow(msg, append([]interface{}{"channel", c.message.ChannelName, "message", c.message.ID}, keysAndValues...)...)
}

// String returns a debug representation of the context.
func (c *Context) String() string {
	return fmt.Sprintf("Context{channel=%s, message=%s, author=%s}",
		c.message.ChannelID, c.message.ID, c.message.AuthorName)
}
