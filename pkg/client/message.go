package client

import (
	"sort"

	"github.com/aeolun/chorus/pkg/protocol"
)

// UnknownAuthor is rendered for messages whose profile could not be resolved.
const UnknownAuthor = "Unknown"

// ConversationKey names one conversation: a channel, or a DM with a peer.
// Exactly one field is set.
type ConversationKey struct {
	ChannelID string
	PeerID    string
}

// ChannelKey is the key of a channel conversation.
func ChannelKey(channelID string) ConversationKey {
	return ConversationKey{ChannelID: channelID}
}

// DMKey is the key of the direct conversation with peerID.
func DMKey(peerID string) ConversationKey {
	return ConversationKey{PeerID: peerID}
}

// IsDM reports whether the key names a direct conversation.
func (k ConversationKey) IsDM() bool {
	return k.PeerID != ""
}

// IsZero reports whether the key names nothing.
func (k ConversationKey) IsZero() bool {
	return k.ChannelID == "" && k.PeerID == ""
}

func (k ConversationKey) String() string {
	if k.IsDM() {
		return "dm:" + k.PeerID
	}
	return "channel:" + k.ChannelID
}

// Message is the normalized shape of channel messages and direct messages.
// Author is nil when the profile could not be resolved.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	RecipientID string
	Content     string
	CreatedAt   int64
	IsEdited    bool
	IsDeleted   bool
	Author      *protocol.Profile
}

// AuthorName is the author's username, or UnknownAuthor.
func (m Message) AuthorName() string {
	if m.Author == nil || m.Author.Username == "" {
		return UnknownAuthor
	}
	return m.Author.Username
}

// FromChannelRow normalizes a channel message row.
func FromChannelRow(row protocol.Message) Message {
	return Message{
		ID:        row.ID,
		ChannelID: row.ChannelID,
		AuthorID:  row.UserID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		IsEdited:  row.IsEdited,
		IsDeleted: row.IsDeleted,
	}
}

// FromDirectRow normalizes a direct message row. The sender becomes the author.
func FromDirectRow(row protocol.DirectMessage) Message {
	return Message{
		ID:          row.ID,
		AuthorID:    row.SenderID,
		RecipientID: row.RecipientID,
		Content:     row.Content,
		CreatedAt:   row.CreatedAt,
		IsEdited:    row.IsEdited,
		IsDeleted:   row.IsDeleted,
	}
}

// MatchesPair reports whether a direct message belongs to the conversation
// between self and peer, in either direction.
func MatchesPair(dm protocol.DirectMessage, self, peer string) bool {
	return (dm.SenderID == self && dm.RecipientID == peer) ||
		(dm.SenderID == peer && dm.RecipientID == self)
}

// sortAndDedupe orders messages by creation time, keeping backend order for
// ties, and drops repeated ids.
func sortAndDedupe(msgs []Message) []Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
	seen := make(map[string]bool, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// InsertOrdered places m after every message created at or before it. A
// message whose id is already present is ignored and added is false.
func InsertOrdered(msgs []Message, m Message) (result []Message, added bool) {
	for _, existing := range msgs {
		if existing.ID == m.ID {
			return msgs, false
		}
	}
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt > m.CreatedAt
	})
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs, true
}
