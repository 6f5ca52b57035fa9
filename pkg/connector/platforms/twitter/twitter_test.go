package twitter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePostShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello world", truncatePost("hello world"))

	exact := strings.Repeat("a", maxPostRunes)
	assert.Equal(t, exact, truncatePost(exact))
}

func TestTruncatePostLongText(t *testing.T) {
	long := strings.Repeat("a", maxPostRunes+50)
	got := truncatePost(long)
	assert.Equal(t, maxPostRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestTruncatePostCountsRunesNotBytes(t *testing.T) {
	// 280 snowmen are 840 bytes but exactly at the rune limit
	snowmen := strings.Repeat("☃", maxPostRunes)
	assert.Equal(t, snowmen, truncatePost(snowmen))

	got := truncatePost(snowmen + "☃")
	assert.Equal(t, maxPostRunes, utf8.RuneCountInString(got))
}
