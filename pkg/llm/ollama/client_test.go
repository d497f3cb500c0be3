package ollama

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talos/pkg/llm"
)

func writeTempImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attachment.png")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestConvertMessagesLoadsFileBackedImages(t *testing.T) {
	pixels := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	path := writeTempImage(t, pixels)

	msg := llm.NewUserMessage("what is on screen?")
	msg.AddContentBlock(llm.NewImageBlockFromFile(path, "image/png"))

	out := (&Client{}).convertMessages([]llm.Message{msg})
	require.Len(t, out, 1)
	require.Len(t, out[0].Images, 1, "disk-backed attachments must reach the model")
	assert.Equal(t, pixels, []byte(out[0].Images[0]))
	assert.Equal(t, "what is on screen?", out[0].Content)
}

func TestConvertMessagesInlineImages(t *testing.T) {
	msg := llm.NewUserMessage("look")
	msg.AddContentBlock(llm.NewImageBlock([]byte{1, 2, 3}, "image/png"))

	out := (&Client{}).convertMessages([]llm.Message{msg})
	require.Len(t, out, 1)
	require.Len(t, out[0].Images, 1)
	assert.Equal(t, []byte{1, 2, 3}, []byte(out[0].Images[0]))
}

func TestConvertMessagesSkipsUnreadableImage(t *testing.T) {
	msg := llm.NewUserMessage("look")
	msg.AddContentBlock(llm.NewImageBlockFromFile(filepath.Join(t.TempDir(), "gone.png"), "image/png"))

	out := (&Client{}).convertMessages([]llm.Message{msg})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Images)
	assert.Equal(t, "look", out[0].Content, "text must survive a failed attachment")
}
