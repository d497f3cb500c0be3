package llm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSystemMessage(t *testing.T) {
	h := NewHistory()
	h.Add(NewUserMessage("hello"))

	h.EnsureSystemMessage("persona A")
	msgs := h.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "persona A", msgs[0].GetTextContent())

	// A second call replaces rather than stacks.
	h.EnsureSystemMessage("persona B")
	msgs = h.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "persona B", msgs[0].GetTextContent())
}

func TestHistorySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	h := NewHistory()
	h.Add(NewSystemMessage("sys"))
	h.Add(NewUserMessage("take a screenshot"))

	assistant := Message{Role: RoleAssistant}
	assistant.AddContentBlock(NewTextBlock("done"))
	assistant.AddContentBlock(NewImageBlock([]byte{1, 2, 3}, "image/png"))
	h.Add(assistant)

	require.NoError(t, h.Save(path))

	loaded := NewHistory()
	require.NoError(t, loaded.Load(path))

	msgs := loaded.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "take a screenshot", msgs[1].GetTextContent())

	require.True(t, msgs[2].HasImages())
	var img *ImageSource
	for _, b := range msgs[2].Content {
		if b.Type == BlockTypeImage {
			img = b.Source
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, []byte{1, 2, 3}, img.Data, "inline image bytes must survive persistence")
}

func TestHistoryLoadMissingFileIsEmpty(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Load(filepath.Join(t.TempDir(), "absent.json")))
	assert.Zero(t, h.Len())
}

func TestMessagesForUISkipsInternalTurns(t *testing.T) {
	h := NewHistory()
	h.Add(NewSystemMessage("sys"))
	h.Add(NewUserMessage("hi"))
	h.Add(Message{Role: RoleTool, Content: []ContentBlock{NewTextBlock("tool output")}})
	h.Add(NewTextMessage(RoleAssistant, "hello"))

	ui := h.MessagesForUI()
	require.Len(t, ui, 2)
	assert.Equal(t, RoleUser, ui[0]["role"])
	assert.Equal(t, RoleAssistant, ui[1]["role"])
}

func TestSessionStoreIsolatesSessions(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	h1, err := store.GetHistory("web_global")
	require.NoError(t, err)
	h1.Add(NewUserMessage("one"))
	require.NoError(t, store.SaveSession("web_global"))

	h2, err := store.GetHistory("telegram_42")
	require.NoError(t, err)
	assert.Zero(t, h2.Len())

	// Same ID returns the same instance.
	again, err := store.GetHistory("web_global")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len())
}
