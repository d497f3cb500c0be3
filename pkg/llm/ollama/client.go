package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"talos/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client streams chat completions from a local or remote Ollama server.
type Client struct {
	api          *api.Client
	model        string
	options      map[string]any
	debugEnabled bool
}

// NewClient builds a client for one model. An empty baseURL falls back to
// the OLLAMA_HOST environment resolution.
func NewClient(model, baseURL string, options map[string]any) (*Client, error) {
	// No client-side timeout: local models can take minutes to load.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,
	}
	httpClient := &http.Client{
		Transport: &jsonFixingRoundTripper{proxied: transport},
		Timeout:   0,
	}

	var apiClient *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		apiClient = api.NewClient(u, httpClient)
	} else {
		var err error
		apiClient, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)
	return &Client{api: apiClient, model: model, options: options}, nil
}

func (c *Client) Provider() string { return "ollama" }

func (c *Client) SetDebug(enabled bool) { c.debugEnabled = enabled }

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	apiMessages := c.convertMessages(messages)
	apiTools, err := c.convertTools(tools)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error) // unbuffered so a timed-out waiter is detectable

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, "ollama", c.debugEnabled)
		defer debugger.Close()

		streamVal := true
		req := &api.ChatRequest{
			Model:    c.model,
			Messages: apiMessages,
			Options:  c.options,
			Tools:    apiTools,
			Stream:   &streamVal,
		}

		started := false
		var thoughtsCount int

		err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
			if raw, err := json.Marshal(resp); err == nil {
				debugger.Write(raw)
			}

			// First callback means the model loaded and the stream is live.
			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Thinking != "" {
				thoughtsCount++
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if len(resp.Message.ToolCalls) > 0 {
				var toolCalls []llm.ToolCall
				for _, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						slog.Warn("Failed to marshal tool call arguments", "provider", "ollama", "error", err)
						argsB = []byte("{}")
					}
					toolCalls = append(toolCalls, llm.ToolCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Function: llm.FunctionCall{
							Name:      tc.Function.Name,
							Arguments: string(argsB),
						},
					})
					slog.Debug("Tool call", "provider", "ollama", "name", tc.Function.Name, "args", string(argsB))
				}
				chunkCh <- llm.StreamChunk{ToolCalls: toolCalls}
			}

			if resp.Done {
				usage := &llm.Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					ThoughtsTokens:   thoughtsCount,
					StopReason:       resp.DoneReason,
				}
				if resp.DoneReason == llm.StopReasonLength {
					slog.Warn("Response truncated due to length", "provider", "ollama")
				}
				chunkCh <- llm.NewFinalChunk(resp.DoneReason, usage)
				llm.LogUsage(c.model, usage)
			}
			return nil
		})

		if err != nil {
			slog.Error("Stream error", "provider", "ollama", "model", c.model, "error", err)
			if !started {
				select {
				case startResultCh <- err:
				default:
					chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Error loading model %s: %v", c.model, err), err, true)
				}
			} else {
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertTools renders tool schemas as api.Tool via a JSON roundtrip. The
// SDK's nested schema types make direct construction brittle.
func (c *Client) convertTools(tools []llm.Tool) ([]api.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(llm.FunctionDeclarations(tools))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool declarations: %w", err)
	}
	var apiTools []api.Tool
	if err := json.Unmarshal(raw, &apiTools); err != nil {
		return nil, fmt.Errorf("failed to build ollama tools: %w", err)
	}
	return apiTools, nil
}

func (c *Client) convertMessages(messages []llm.Message) []api.Message {
	var out []api.Message

	for _, m := range messages {
		var text strings.Builder
		var thinking strings.Builder
		var images []api.ImageData

		for _, block := range m.Content {
			switch block.Type {
			case llm.BlockTypeText:
				text.WriteString(block.Text)
			case llm.BlockTypeThinking:
				thinking.WriteString(block.Text)
			case llm.BlockTypeImage:
				if block.Source != nil {
					data, err := block.Source.Bytes()
					if err != nil {
						slog.Warn("Failed to load image attachment", "provider", "ollama", "path", block.Source.Path, "error", err)
					} else if len(data) > 0 {
						images = append(images, data)
					}
				}
			}
		}

		combined := thinking.String()
		if combined != "" && text.Len() > 0 {
			combined += "\n"
		}
		combined += text.String()

		msg := api.Message{Role: m.Role, Content: combined}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var calls []api.ToolCall
			for _, tc := range m.ToolCalls {
				var args api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					slog.Warn("Failed to restore tool arguments from history", "provider", "ollama", "error", err)
				}
				calls = append(calls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: args,
					},
				})
			}
			msg.ToolCalls = calls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		if len(images) > 0 {
			msg.Images = images
		}

		out = append(out, msg)
	}
	return out
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "overloaded")
}

// jsonFixingRoundTripper repairs illegal JSON escapes (e.g. \$) some
// models emit mid-stream before the decoder sees them.
type jsonFixingRoundTripper struct {
	proxied http.RoundTripper
}

func (j *jsonFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// Replacements only ever drop a backslash, so the fixed bytes
			// always fit in place.
			copy(p, fixed)
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error { return j.body.Close() }
