package llm

import (
	"encoding/base64"
	"os"
	"time"
)

// Message is one turn in a conversation. Content is an ordered list of
// typed blocks so a single turn can mix text, reasoning and images.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds tool invocation requests produced by the model
	// (assistant role only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	Usage *Usage `json:"usage,omitempty"`
}

// ToolCall is a model-issued request to run a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`

	// Meta carries provider-specific payloads needed to reconstruct the
	// call on the wire (e.g. Gemini thought signatures). Never serialized.
	Meta map[string]any `json:"-"`
}

// FunctionCall names the tool and carries its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ContentBlock is one typed unit of message content: "text", "thinking",
// "image" or "error".
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource locates the bytes of an image block. Type is "base64",
// "file" or "url".
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
	Path      string `json:"path,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Bytes returns the image payload, loading file-backed sources from
// disk. URL-only sources yield no bytes and no error; the provider
// decides whether it can pass the URL through.
func (is *ImageSource) Bytes() ([]byte, error) {
	if len(is.Data) > 0 {
		return is.Data, nil
	}
	if is.Path != "" {
		return os.ReadFile(is.Path)
	}
	return nil, nil
}

type imageSourceJSON struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	Path      string `json:"path,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MarshalJSON emits inline bytes as base64 so histories survive a round
// trip through disk.
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	out := imageSourceJSON{
		Type:      is.Type,
		MediaType: is.MediaType,
		Path:      is.Path,
		URL:       is.URL,
	}
	if len(is.Data) > 0 {
		out.Data = base64.StdEncoding.EncodeToString(is.Data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores inline base64 payloads back into Data.
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	var in imageSourceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	is.Type = in.Type
	is.MediaType = in.MediaType
	is.Path = in.Path
	is.URL = in.URL
	if in.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return err
		}
		is.Data = decoded
	}
	return nil
}

// StreamChunk is one incremental piece of a streaming model response.
type StreamChunk struct {
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	IsFinal       bool           `json:"is_final"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`

	// Error is a user-displayable failure description; RawError keeps the
	// original error for classification by the caller.
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
}

// Usage aggregates token accounting reported by a provider.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{{Type: BlockTypeText, Text: text}},
		Timestamp: time.Now().Unix(),
	}
}

func NewSystemMessage(text string) Message { return NewTextMessage(RoleSystem, text) }
func NewUserMessage(text string) Message   { return NewTextMessage(RoleUser, text) }

// AddContentBlock appends a block to the message content.
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent concatenates all text blocks, skipping thinking blocks.
func (m *Message) GetTextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockTypeText {
			out += b.Text
		}
	}
	return out
}

// HasImages reports whether the message carries at least one image block.
func (m *Message) HasImages() bool {
	for _, b := range m.Content {
		if b.Type == BlockTypeImage {
			return true
		}
	}
	return false
}

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

// NewImageBlock builds an image block from inline bytes.
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mimeType,
			Data:      data,
		},
	}
}

// NewImageBlockFromFile builds an image block that references bytes on
// disk instead of holding them in memory.
func NewImageBlockFromFile(path, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "file",
			MediaType: mimeType,
			Path:      path,
		},
	}
}

func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{{Type: BlockTypeText, Text: text}}}
}

func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{{Type: BlockTypeThinking, Text: text}}}
}

// NewErrorChunk wraps a failure for the stream consumer. final marks the
// chunk as terminating the stream.
func NewErrorChunk(text string, raw error, final bool) StreamChunk {
	return StreamChunk{Error: text, RawError: raw, IsFinal: final}
}

// NewFinalChunk terminates a stream with the normalized stop reason and
// whatever usage accounting the provider reported.
func NewFinalChunk(reason string, usage *Usage) StreamChunk {
	return StreamChunk{IsFinal: true, FinishReason: reason, Usage: usage}
}
