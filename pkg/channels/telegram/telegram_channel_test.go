package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessageChunksAtRuneBoundaries(t *testing.T) {
	// Multibyte runes must never be cut mid-sequence.
	message := strings.Repeat("画", 10)

	parts := splitMessage(message, 4)
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Repeat("画", 4), parts[0])
	assert.Equal(t, strings.Repeat("画", 4), parts[1])
	assert.Equal(t, strings.Repeat("画", 2), parts[2])
	assert.Equal(t, message, strings.Join(parts, ""))
}

func TestSplitMessageShortMessageIsOnePart(t *testing.T) {
	parts := splitMessage("hello", 4000)
	assert.Equal(t, []string{"hello"}, parts)
}

func TestSplitMessageNonPositiveLimit(t *testing.T) {
	// A zeroed config limit must not stall the chunking loop.
	message := strings.Repeat("x", defaultMessageLimit+1)

	parts := splitMessage(message, 0)
	require.Len(t, parts, 2)
	assert.Equal(t, defaultMessageLimit, len(parts[0]))
	assert.Equal(t, message, strings.Join(parts, ""))

	parts = splitMessage("short", -5)
	assert.Equal(t, []string{"short"}, parts)
}
