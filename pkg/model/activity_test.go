package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateTitle(t *testing.T) {
	t.Run("short title passes through", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateTitle("hello"))
	})

	t.Run("long title is clamped with suffix", func(t *testing.T) {
		out := TruncateTitle(strings.Repeat("a", ActivityTitleLimit+50))
		assert.Len(t, out, ActivityTitleLimit)
		assert.True(t, strings.HasSuffix(out, TruncationSuffix))
	})

	t.Run("multi-byte runes are never split", func(t *testing.T) {
		out := TruncateTitle(strings.Repeat("é", ActivityTitleLimit))
		assert.True(t, utf8.ValidString(out))
		assert.LessOrEqual(t, len(out), ActivityTitleLimit)
		assert.True(t, strings.HasSuffix(out, TruncationSuffix))
	})
}

func TestTruncateContent(t *testing.T) {
	// The cut point lands mid-rune without boundary handling: a 4-byte
	// emoji straddles limit-len(suffix).
	content := strings.Repeat("x", ActivityContentLimit-len(TruncationSuffix)-2) +
		strings.Repeat("\U0001f600", 5)
	out := TruncateContent(content)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), ActivityContentLimit)
	assert.True(t, strings.HasSuffix(out, TruncationSuffix))
}
