package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talos/pkg/api"
	"talos/pkg/config"
	"talos/pkg/llm"
)

// scriptedClient plays back one chunk sequence per StreamChat call.
type scriptedClient struct {
	script [][]llm.StreamChunk
	calls  int
	mu     sync.Mutex
}

func (c *scriptedClient) Provider() string { return "scripted" }

func (c *scriptedClient) SetDebug(enabled bool) {}

func (c *scriptedClient) IsTransientError(err error) bool { return false }

func (c *scriptedClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.mu.Unlock()

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		if idx >= len(c.script) {
			ch <- llm.NewFinalChunk(llm.StopReasonStop, &llm.Usage{StopReason: llm.StopReasonStop})
			return
		}
		for _, chunk := range c.script[idx] {
			ch <- chunk
		}
	}()
	return ch, nil
}

// recordingResponder captures everything the engine pushes back out.
type recordingResponder struct {
	mu       sync.Mutex
	replies  []string
	signals  []string
	streamed []llm.ContentBlock
}

func (r *recordingResponder) SendReply(session api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *recordingResponder) SendSignal(session api.SessionContext, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func (r *recordingResponder) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	for b := range blocks {
		r.mu.Lock()
		r.streamed = append(r.streamed, b)
		r.mu.Unlock()
	}
	return nil
}

// stubTool records its arguments and answers with fixed text.
type stubTool struct {
	mu      sync.Mutex
	gotArgs map[string]any
	result  *api.ToolResult
}

func (t *stubTool) Name() string                 { return "manage_screenshot" }
func (t *stubTool) Description() string          { return "stub" }
func (t *stubTool) Parameters() map[string]any   { return map[string]any{} }
func (t *stubTool) RequiredParameters() []string { return []string{} }

func (t *stubTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	t.mu.Lock()
	t.gotArgs = args
	t.mu.Unlock()
	if t.result != nil {
		return t.result, nil
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "screenshot taken"}},
		Details: map[string]any{"success": true},
	}, nil
}

func newTestEngine(client llm.Client) (*Engine, *recordingResponder, *stubTool) {
	sysCfg := config.DefaultSystemConfig()
	sysCfg.ThinkingInitDelayMs = 10_000 // keep the thinking signal out of short tests
	appCfg := &config.Config{SystemPrompt: "You drive the Unity Editor."}

	engine := NewEngine(client, appCfg, sysCfg, llm.NewSessionStore(""))
	tool := &stubTool{}
	engine.RegisterTool(tool)

	responder := &recordingResponder{}
	engine.SetResponder(responder)
	return engine, responder, tool
}

func session() api.SessionContext {
	return api.SessionContext{ChannelID: "test", UserID: "u1", ChatID: "c1", Username: "tester"}
}

func TestHandleMessageRunsToolLoop(t *testing.T) {
	client := &scriptedClient{script: [][]llm.StreamChunk{
		{
			{ToolCalls: []llm.ToolCall{{
				ID:   "call_1",
				Name: "manage_screenshot",
				Function: llm.FunctionCall{
					Name:      "manage_screenshot",
					Arguments: `{"action":"capture","format":"PNG"}`,
				},
			}}},
			llm.NewFinalChunk(llm.StopReasonStop, &llm.Usage{StopReason: llm.StopReasonStop}),
		},
		{
			llm.NewTextChunk("Here is the screenshot."),
			llm.NewFinalChunk(llm.StopReasonStop, &llm.Usage{StopReason: llm.StopReasonStop}),
		},
	}}

	engine, _, tool := newTestEngine(client)
	history := llm.NewHistory()

	final := engine.HandleMessage(context.Background(), &api.UnifiedMessage{
		Session: session(),
		Content: "grab a screenshot",
	}, history)

	assert.Equal(t, "Here is the screenshot.", final.GetTextContent())
	assert.Equal(t, 2, client.calls, "model should be consulted again after the tool runs")

	tool.mu.Lock()
	assert.Equal(t, "capture", tool.gotArgs["action"])
	tool.mu.Unlock()

	// system, user, assistant(tool call), tool result, assistant(answer)
	msgs := history.GetMessages()
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "screenshot taken", msgs[3].GetTextContent())
	assert.Equal(t, llm.RoleAssistant, msgs[4].Role)
}

func TestHandleMessagePlainAnswer(t *testing.T) {
	client := &scriptedClient{script: [][]llm.StreamChunk{
		{
			llm.NewTextChunk("The Editor is in play mode."),
			llm.NewFinalChunk(llm.StopReasonStop, &llm.Usage{StopReason: llm.StopReasonStop}),
		},
	}}

	engine, responder, _ := newTestEngine(client)
	history := llm.NewHistory()

	final := engine.HandleMessage(context.Background(), &api.UnifiedMessage{
		Session: session(),
		Content: "is the editor playing?",
	}, history)

	assert.Equal(t, "The Editor is in play mode.", final.GetTextContent())
	assert.Equal(t, 1, client.calls)

	responder.mu.Lock()
	var streamedText strings.Builder
	for _, b := range responder.streamed {
		if b.Type == llm.BlockTypeText {
			streamedText.WriteString(b.Text)
		}
	}
	responder.mu.Unlock()
	assert.Equal(t, "The Editor is in play mode.", streamedText.String())
}

func TestSlashCommandResolvesShorthand(t *testing.T) {
	engine, responder, tool := newTestEngine(&scriptedClient{})
	history := llm.NewHistory()

	final := engine.HandleMessage(context.Background(), &api.UnifiedMessage{
		Session: session(),
		Content: `/screenshot capture {"cameraName":"Main Camera"}`,
	}, history)

	tool.mu.Lock()
	assert.Equal(t, "capture", tool.gotArgs["action"])
	assert.Equal(t, "Main Camera", tool.gotArgs["cameraName"])
	tool.mu.Unlock()

	assert.Equal(t, "screenshot taken", final.GetTextContent())

	responder.mu.Lock()
	require.NotEmpty(t, responder.replies)
	assert.Contains(t, responder.replies[0], "Manually executing tool")
	responder.mu.Unlock()
}

func TestSlashCommandUnknownTool(t *testing.T) {
	engine, responder, _ := newTestEngine(&scriptedClient{})
	history := llm.NewHistory()

	final := engine.HandleMessage(context.Background(), &api.UnifiedMessage{
		Session: session(),
		Content: "/warp reality",
	}, history)

	assert.Empty(t, final.Content)
	responder.mu.Lock()
	require.NotEmpty(t, responder.replies)
	assert.Contains(t, responder.replies[len(responder.replies)-1], "Tool not found")
	responder.mu.Unlock()
}

func TestConvertToolResultDecodesImages(t *testing.T) {
	res := &api.ToolResult{Content: []api.ContentBlock{
		{Type: "text", Text: "Screenshot captured."},
		{Type: "image", Data: "aGVsbG8=", MimeType: "image/png"},
	}}

	blocks := ConvertToolResult(res)
	require.Len(t, blocks, 2)
	assert.Equal(t, llm.BlockTypeText, blocks[0].Type)
	assert.Equal(t, llm.BlockTypeImage, blocks[1].Type)
	require.NotNil(t, blocks[1].Source)
	assert.Equal(t, []byte("hello"), blocks[1].Source.Data)
	assert.Equal(t, "image/png", blocks[1].Source.MediaType)
}

func TestConvertToolResultEmptyFallsBack(t *testing.T) {
	blocks := ConvertToolResult(&api.ToolResult{})
	require.Len(t, blocks, 1)
	assert.Equal(t, "(No output)", blocks[0].Text)
}
