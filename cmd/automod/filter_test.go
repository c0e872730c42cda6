package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatchesWholeWords(t *testing.T) {
	f := newFilter([]string{"spam", " Scam ", "spam", "", "c++"})
	require.Equal(t, 3, f.size(), "terms are trimmed, lowercased and deduplicated")

	tests := []struct {
		content string
		term    string
		matched bool
	}{
		{"this is SPAM", "spam", true},
		{"a scam!", "scam", true},
		{"learning c++ today", "c++", true},
		{"spammer", "", false},
		{"antiscam tips", "", false},
		{"hello", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			term, ok := f.match(tt.content)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.term, term)
		})
	}
}

func TestLoadTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("# blocked\nspam\n\n  scam  \n"), 0o600))

	terms, err := loadTerms(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"spam", "scam"}, terms)

	_, err = loadTerms(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"general", "Guild/random"}, splitList(" general, ,Guild/random "))
	assert.Nil(t, splitList(""))
}
