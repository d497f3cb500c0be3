package gemini

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"talos/pkg/llm"
)

func TestConvertMessagesLoadsFileBackedImages(t *testing.T) {
	pixels := []byte{0x89, 'P', 'N', 'G', 4, 5, 6}
	path := filepath.Join(t.TempDir(), "attachment.png")
	require.NoError(t, os.WriteFile(path, pixels, 0644))

	msg := llm.NewUserMessage("what is on screen?")
	msg.AddContentBlock(llm.NewImageBlockFromFile(path, "image/png"))

	contents, _ := (&Client{}).convertMessages([]llm.Message{msg})
	require.Len(t, contents, 1)

	var blob *genai.Blob
	for _, part := range contents[0].Parts {
		if part.InlineData != nil {
			blob = part.InlineData
		}
	}
	require.NotNil(t, blob, "disk-backed attachments must reach the model")
	assert.Equal(t, pixels, blob.Data)
	assert.Equal(t, "image/png", blob.MIMEType)
}

func TestConvertMessagesSkipsUnreadableImage(t *testing.T) {
	msg := llm.NewUserMessage("look")
	msg.AddContentBlock(llm.NewImageBlockFromFile(filepath.Join(t.TempDir(), "gone.png"), "image/png"))

	contents, _ := (&Client{}).convertMessages([]llm.Message{msg})
	require.Len(t, contents, 1)
	for _, part := range contents[0].Parts {
		assert.Nil(t, part.InlineData)
	}
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonStop, normalizeStopReason(genai.FinishReasonStop))
	assert.Equal(t, llm.StopReasonLength, normalizeStopReason(genai.FinishReasonMaxTokens))
	assert.Equal(t, "SAFETY", normalizeStopReason(genai.FinishReasonSafety))
}
