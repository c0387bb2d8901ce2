package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	c := NewCounter()

	count, err := c.CountTokens("Evaluate this candidate against the role.", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
	assert.Less(t, count, 20)
}

func TestCountTokensUnknownModelFallsBack(t *testing.T) {
	t.Parallel()

	c := NewCounter()

	count, err := c.CountTokens("some text", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	c := NewCounter()
	long := strings.Repeat("senior backend engineer with strong distributed systems background ", 200)

	truncated := c.Truncate(long, "gpt-4o-mini", 50)
	count, err := c.CountTokens(truncated, "gpt-4o-mini")
	require.NoError(t, err)
	assert.LessOrEqual(t, count, 50)
	assert.Less(t, len(truncated), len(long))
}

func TestTruncateShortTextUnchanged(t *testing.T) {
	t.Parallel()

	c := NewCounter()
	text := "short document"
	assert.Equal(t, text, c.Truncate(text, "gpt-4o-mini", 1000))
	assert.Equal(t, text, c.Truncate(text, "gpt-4o-mini", 0))
}

func TestCountChatTokensIncludesOverhead(t *testing.T) {
	t.Parallel()

	c := NewCounter()

	bare, err := c.CountTokens("hello", "gpt-4")
	require.NoError(t, err)
	chat, err := c.CountChatTokens("", "hello", "gpt-4")
	require.NoError(t, err)
	assert.Greater(t, chat, bare)
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gpt-4", normalizeModelName("gpt-4o-mini"))
	assert.Equal(t, "gpt-3.5-turbo", normalizeModelName("GPT-3.5-Turbo"))
	assert.Equal(t, "gpt-4", normalizeModelName("meta-llama/Llama-2-70b-chat-hf"))
	assert.Equal(t, "gpt-4", normalizeModelName("gemini-1.5-flash"))
}
