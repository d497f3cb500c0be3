package openailm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"talos/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client streams completions through the OpenAI Responses API. It also
// serves OpenAI-compatible gateways via a custom base URL.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

func NewClient(provider, apiKey, model, baseURL string, options map[string]any) (*Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
	}, nil
}

func (c *Client) Provider() string { return c.provider }

func (c *Client) SetDebug(enabled bool) { c.debugEnabled = enabled }

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// 400/401/404 and friends are the caller's problem.
	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, 100)

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: c.convertMessages(messages),
		},
	}

	opts := []option.RequestOption{}

	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}

	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_completion_tokens", int(maxTok)))
	}

	if converted := c.convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var lastFinishReason string
		var lastUsage *llm.Usage
		var thinkingBuffer strings.Builder
		toolCallsMap := make(map[string]*llm.ToolCall)

		for stream.Next() {
			event := stream.Current()

			// The SDK keeps the raw payload in an unexported JSON field;
			// pull it out for debug logs and non-standard thinking fields.
			var raw string
			rv := reflect.ValueOf(event.JSON)
			if rv.Kind() == reflect.Struct {
				rt := rv.Type()
				for i := 0; i < rt.NumField(); i++ {
					if rt.Field(i).Name == "raw" {
						raw = rv.Field(i).String()
						break
					}
				}
			}
			if raw != "" {
				debugger.WriteString(raw)

				// Some compatible gateways stream reasoning under ad-hoc
				// keys instead of reasoning events.
				var rawChoice struct {
					Reasoning        string `json:"reasoning"`
					Thinking         string `json:"thinking"`
					ReasoningContent string `json:"reasoning_content"`
				}
				if json.Unmarshal([]byte(raw), &rawChoice) == nil {
					thought := rawChoice.Reasoning
					if thought == "" {
						thought = rawChoice.Thinking
					}
					if thought == "" {
						thought = rawChoice.ReasoningContent
					}
					if thought != "" {
						thinkingBuffer.WriteString(thought)
						chunkCh <- llm.NewThinkingChunk(thought)
					}
				}
			}

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				chunkCh <- llm.NewTextChunk(variant.Delta)

			case responses.ResponseReasoningTextDeltaEvent:
				thinkingBuffer.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinkingBuffer.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseFunctionCallArgumentsDeltaEvent:
				tc, ok := toolCallsMap[variant.ItemID]
				if !ok {
					tc = &llm.ToolCall{ID: variant.ItemID}
					toolCallsMap[variant.ItemID] = tc
				}
				tc.Function.Arguments += variant.Delta

			case responses.ResponseFunctionCallArgumentsDoneEvent:
				if tc, ok := toolCallsMap[variant.ItemID]; ok && variant.Name != "" {
					tc.Name = variant.Name
					tc.Function.Name = variant.Name
				}

			case responses.ResponseOutputItemAddedEvent:
				if variant.Item.Type == "function_call" {
					tc, ok := toolCallsMap[variant.Item.ID]
					if !ok {
						tc = &llm.ToolCall{ID: variant.Item.ID}
						toolCallsMap[variant.Item.ID] = tc
					}
					if variant.Item.Name != "" {
						tc.Name = variant.Item.Name
						tc.Function.Name = variant.Item.Name
					}
				}

			case responses.ResponseOutputItemDoneEvent:
				// The name can arrive only in the closing item.
				if variant.Item.Type == "function_call" {
					if tc, ok := toolCallsMap[variant.Item.ID]; ok && variant.Item.Name != "" {
						tc.Name = variant.Item.Name
						tc.Function.Name = variant.Item.Name
					}
				}

			case responses.ResponseCompletedEvent:
				lastFinishReason = "stop"
				if variant.Response.Usage.TotalTokens > 0 {
					lastUsage = &llm.Usage{
						PromptTokens:     int(variant.Response.Usage.InputTokens),
						CompletionTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:      int(variant.Response.Usage.TotalTokens),
						StopReason:       llm.StopReasonStop,
					}
				}

			case responses.ResponseFailedEvent:
				lastFinishReason = "failed"
				chunkCh <- llm.NewErrorChunk("API response failed", nil, true)

			case responses.ResponseIncompleteEvent:
				lastFinishReason = "length"
				chunkCh <- llm.NewErrorChunk("API response incomplete", nil, true)

			case responses.ResponseErrorEvent:
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("API error: %s", variant.Message), nil, true)
			}
		}

		if strings.TrimSpace(thinkingBuffer.String()) != "" {
			slog.Debug("Captured full thinking process", "provider", c.provider, "content", thinkingBuffer.String())
		}

		if len(toolCallsMap) > 0 {
			calls := make([]llm.ToolCall, 0, len(toolCallsMap))
			for _, tc := range toolCallsMap {
				calls = append(calls, *tc)
			}
			chunkCh <- llm.StreamChunk{ToolCalls: calls}
		}

		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true)
		} else {
			reason := llm.StopReasonStop
			if lastFinishReason != "" {
				reason = normalizeStopReason(lastFinishReason)
			}
			chunkCh <- llm.NewFinalChunk(reason, lastUsage)
			llm.LogUsage(c.model, lastUsage)
		}
	}()

	return chunkCh, nil
}

func (c *Client) convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleSystem,
			))

		case llm.RoleUser:
			if m.HasImages() {
				var parts responses.ResponseInputMessageContentListParam
				for _, block := range m.Content {
					switch block.Type {
					case llm.BlockTypeText:
						parts = append(parts, responses.ResponseInputContentUnionParam{
							OfInputText: &responses.ResponseInputTextParam{Text: block.Text},
						})
					case llm.BlockTypeImage:
						if block.Source != nil {
							imgURL := block.Source.URL
							if data, err := block.Source.Bytes(); err != nil {
								slog.Warn("Failed to load image attachment", "provider", c.provider, "path", block.Source.Path, "error", err)
							} else if len(data) > 0 {
								imgURL = fmt.Sprintf("data:%s;base64,%s",
									block.Source.MediaType,
									base64.StdEncoding.EncodeToString(data))
							}
							if imgURL != "" {
								parts = append(parts, responses.ResponseInputContentUnionParam{
									OfInputImage: &responses.ResponseInputImageParam{
										Detail:   responses.ResponseInputImageDetailAuto,
										ImageURL: param.NewOpt(imgURL),
									},
								})
							}
						}
					}
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(
					parts,
					responses.EasyInputMessageRoleUser,
				))
			} else {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.GetTextContent(),
					responses.EasyInputMessageRoleUser,
				))
			}

		case llm.RoleAssistant:
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Function.Arguments,
					tc.ID,
					tc.Name,
				))
			}

		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.GetTextContent(),
			))
		}
	}
	return items
}

func (c *Client) convertTools(tools []llm.Tool) []responses.ToolUnionParam {
	var out []responses.ToolUnionParam
	for _, t := range tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  llm.ObjectSchema(t),
			},
		})
	}
	return out
}

// normalizeStopReason maps provider finish reasons onto the shared set.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "stop":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	default:
		return reason
	}
}
