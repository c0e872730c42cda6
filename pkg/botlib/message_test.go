package botlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMentionsMe(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"@automod help", true},
		{"hey @AutoMod, you there?", true},
		{"automod: status", true},
		{"Automod, status", true},
		{"automod status", true},
		{"automoderation is neat", false},
		{"talking about bots", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			m := &Message{Content: tt.content, botName: "automod"}
			assert.Equal(t, tt.want, m.MentionsMe())
		})
	}

	assert.False(t, (&Message{Content: "@automod"}).MentionsMe(), "no bot name, no mentions")
}

func TestMentionedContent(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"@automod help", "help"},
		{"automod: status", "status"},
		{"AutoMod, words", "words"},
		{"please @automod check this", "please  check this"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			m := &Message{Content: tt.content, botName: "automod"}
			assert.Equal(t, tt.want, m.MentionedContent())
		})
	}
}

func TestChannelMatches(t *testing.T) {
	ch := Channel{ID: "c1", Name: "general", ServerID: "s1", ServerName: "Book Club"}

	assert.True(t, ch.matches("general"))
	assert.True(t, ch.matches("#general"))
	assert.True(t, ch.matches("book club/general"))
	assert.True(t, ch.matches(" Book Club/#general "))
	assert.False(t, ch.matches("Other/general"))
	assert.False(t, ch.matches("random"))
	assert.Equal(t, "Book Club/general", ch.Label())
}
