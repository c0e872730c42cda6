package client

import (
	"fmt"
	"testing"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genMessages(t *rapid.T) []Message {
	n := rapid.IntRange(0, 30).Draw(t, "n")
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = Message{
			ID:        fmt.Sprintf("m%d", rapid.IntRange(0, 15).Draw(t, "id")),
			CreatedAt: rapid.Int64Range(0, 20).Draw(t, "createdAt"),
		}
	}
	return msgs
}

func assertOrderedUnique(t assert.TestingT, msgs []Message) {
	seen := make(map[string]bool)
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, msgs[i-1].CreatedAt, m.CreatedAt)
		}
	}
}

func TestSortAndDedupeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genMessages(t)
		ids := make(map[string]bool)
		for _, m := range in {
			ids[m.ID] = true
		}

		out := sortAndDedupe(append([]Message(nil), in...))
		assertOrderedUnique(t, out)
		assert.Len(t, out, len(ids))
	})
}

func TestInsertOrderedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		list := sortAndDedupe(genMessages(t))
		extra := genMessages(t)

		for _, m := range extra {
			var added bool
			before := len(list)
			list, added = InsertOrdered(list, m)
			if added {
				assert.Equal(t, before+1, len(list))
			} else {
				assert.Equal(t, before, len(list))
			}
		}
		assertOrderedUnique(t, list)
	})
}

func TestInsertOrderedKeepsArrivalOrderForTies(t *testing.T) {
	list := []Message{{ID: "a", CreatedAt: 5}}
	list, _ = InsertOrdered(list, Message{ID: "b", CreatedAt: 5})
	list, _ = InsertOrdered(list, Message{ID: "c", CreatedAt: 3})

	ids := []string{}
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestMatchesPair(t *testing.T) {
	tests := []struct {
		name      string
		sender    string
		recipient string
		want      bool
	}{
		{name: "self to peer", sender: "self", recipient: "peer", want: true},
		{name: "peer to self", sender: "peer", recipient: "self", want: true},
		{name: "self to other", sender: "self", recipient: "other", want: false},
		{name: "other to self", sender: "other", recipient: "self", want: false},
		{name: "peer to other", sender: "peer", recipient: "other", want: false},
		{name: "unrelated", sender: "c", recipient: "d", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dm := protocol.DirectMessage{SenderID: tt.sender, RecipientID: tt.recipient}
			assert.Equal(t, tt.want, MatchesPair(dm, "self", "peer"))
		})
	}
}

func TestMatchesPairProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		users := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-e]`), 2, 5, rapid.ID[string]).Draw(t, "users")
		self, peer := users[0], users[1]
		sender := rapid.SampledFrom(users).Draw(t, "sender")
		recipient := rapid.SampledFrom(users).Draw(t, "recipient")
		dm := protocol.DirectMessage{SenderID: sender, RecipientID: recipient}

		want := (sender == self && recipient == peer) || (sender == peer && recipient == self)
		assert.Equal(t, want, MatchesPair(dm, self, peer))
		// Unordered pair
		assert.Equal(t, MatchesPair(dm, self, peer), MatchesPair(dm, peer, self))
	})
}

func TestAuthorName(t *testing.T) {
	assert.Equal(t, UnknownAuthor, Message{}.AuthorName())
	assert.Equal(t, "alice", Message{Author: &protocol.Profile{Username: "alice"}}.AuthorName())
}

func TestFromDirectRowMapsSenderToAuthor(t *testing.T) {
	m := FromDirectRow(protocol.DirectMessage{ID: "d1", SenderID: "s", RecipientID: "r", Content: "hi", CreatedAt: 7})
	assert.Equal(t, "s", m.AuthorID)
	assert.Equal(t, "r", m.RecipientID)
	assert.Equal(t, int64(7), m.CreatedAt)
	assert.Empty(t, m.ChannelID)
}
