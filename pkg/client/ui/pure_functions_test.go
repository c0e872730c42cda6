package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"fits", "general", 10, "general"},
		{"exact", "general", 7, "general"},
		{"cut", "announcements", 6, "annou…"},
		{"wide runes", "日本語のチャンネル", 7, "日本語…"},
		{"zero", "general", 0, ""},
		{"negative", "general", -3, ""},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateString(tt.input, tt.maxLen))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, time.March, 14, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"today", time.Date(2026, time.March, 14, 9, 5, 0, 0, time.UTC), "09:05"},
		{"earlier this year", time.Date(2026, time.January, 2, 23, 59, 0, 0, time.UTC), "Jan 02 23:59"},
		{"previous year", time.Date(2025, time.December, 31, 8, 0, 0, 0, time.UTC), "2025-12-31 08:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTimestamp(tt.at.UnixMilli(), now))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-1, 0, 5))
	assert.Equal(t, 5, clamp(9, 0, 5))
	assert.Equal(t, 3, clamp(3, 0, 5))
	assert.Equal(t, 0, clamp(2, 0, -1), "empty range clamps to the lower bound")
}

func TestDMCandidatesWithoutSession(t *testing.T) {
	m := NewModel(newTestEnv().options())
	assert.Empty(t, m.dmCandidates())
}
