// Package botlib provides a simple library for building Chorus bots. A bot
// signs in as a regular user, watches channels through the realtime feed
// and answers through the same REST surface as the terminal client.
package botlib

import (
	"strings"
	"time"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
)

// Message represents a chat message received by the bot.
type Message struct {
	ID          string
	ChannelID   string
	ChannelName string
	ServerID    string
	ServerName  string
	AuthorID    string
	AuthorName  string
	Content     string
	CreatedAt   time.Time

	// Internal: the bot's username for mention detection
	botName string
}

func newMessage(m client.Message, ch Channel, botName string) *Message {
	return &Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: ch.Name,
		ServerID:    ch.ServerID,
		ServerName:  ch.ServerName,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName(),
		Content:     m.Content,
		CreatedAt:   time.UnixMilli(m.CreatedAt),
		botName:     botName,
	}
}

// MentionsMe returns true if the message content mentions the bot.
// Checks for @username patterns (case-insensitive).
func (m *Message) MentionsMe() bool {
	if m.botName == "" {
		return false
	}

	content := strings.ToLower(m.Content)
	name := strings.ToLower(m.botName)

	if strings.Contains(content, "@"+name) {
		return true
	}

	// Also check for the name at start of message (common pattern)
	return strings.HasPrefix(content, name+":") ||
		strings.HasPrefix(content, name+",") ||
		strings.HasPrefix(content, name+" ")
}

// MentionedContent returns the message content with the bot mention removed.
// Useful for extracting the actual command.
func (m *Message) MentionedContent() string {
	if m.botName == "" {
		return m.Content
	}

	content := m.Content
	name := m.botName

	content = strings.ReplaceAll(content, "@"+name, "")
	content = strings.ReplaceAll(content, "@"+strings.ToLower(name), "")

	lower := strings.ToLower(content)
	lowerName := strings.ToLower(name)
	for _, sep := range []string{":", ",", " "} {
		if strings.HasPrefix(lower, lowerName+sep) {
			content = content[len(name)+1:]
			break
		}
	}

	return strings.TrimSpace(content)
}

// Channel is a text channel the bot watches.
type Channel struct {
	ID         string
	Name       string
	ServerID   string
	ServerName string
}

// Label is the "server/channel" form accepted in Config.Channels.
func (c Channel) Label() string {
	return c.ServerName + "/" + c.Name
}

func newChannel(srv protocol.Server, ch protocol.Channel) Channel {
	return Channel{ID: ch.ID, Name: ch.Name, ServerID: srv.ID, ServerName: srv.Name}
}

// matches reports whether a Config.Channels entry names this channel.
// A bare name matches the channel in every server.
func (c Channel) matches(want string) bool {
	want = strings.TrimPrefix(strings.TrimSpace(want), "#")
	if server, name, ok := strings.Cut(want, "/"); ok {
		return strings.EqualFold(server, c.ServerName) && strings.EqualFold(strings.TrimPrefix(name, "#"), c.Name)
	}
	return strings.EqualFold(want, c.Name)
}
