package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"talos/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client streams chat completions from the Gemini API.
type Client struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
}

func NewClient(apiKey, model string, useThought bool) (*Client, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: client, model: model, useThought: useThought}, nil
}

func (g *Client) Provider() string { return "gemini" }

func (g *Client) SetDebug(enabled bool) { g.debugEnabled = enabled }

func (g *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	contents, systemInstruction := g.convertMessages(messages)
	genaiTools, err := g.convertTools(tools)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error, 1)

	slog.Debug("Streaming", "provider", "gemini", "model", g.model)

	go func() {
		defer close(chunkCh)

		var thinkingCfg *genai.ThinkingConfig
		if g.useThought {
			thinkingCfg = &genai.ThinkingConfig{IncludeThoughts: true}
		}

		iter := g.client.Models.GenerateContentStream(ctx, g.model, contents, &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction,
			Tools:             genaiTools,
			ThinkingConfig:    thinkingCfg,
		})

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		started := false
		var lastUsage *llm.Usage

		for resp, err := range iter {
			if resp != nil {
				if raw, merr := json.Marshal(resp); merr == nil {
					debugger.Write(raw)
				}
			}
			if err != nil {
				// The iterator can yield trailing data together with an
				// error; drain the data first.
				if resp == nil {
					slog.Error("Stream error", "provider", "gemini", "error", err)
					if !started {
						startResultCh <- err
					} else {
						chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
					}
					break
				}
				slog.Warn("Stream error with partial data", "provider", "gemini", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.UsageMetadata != nil {
				u := resp.UsageMetadata
				lastUsage = &llm.Usage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" && lastUsage != nil {
					lastUsage.StopReason = normalizeStopReason(candidate.FinishReason)
					if candidate.FinishReason == genai.FinishReasonMaxTokens {
						chunkCh <- llm.NewErrorChunk("Response truncated due to max tokens limit.", nil, false)
					}
				}

				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				var toolCalls []llm.ToolCall

				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if part.Thought {
							blocks = append(blocks, llm.NewThinkingBlock(part.Text))
						} else {
							blocks = append(blocks, llm.NewTextBlock(part.Text))
						}
					}

					if part.FunctionCall != nil {
						argsB, _ := json.Marshal(part.FunctionCall.Args)
						toolCalls = append(toolCalls, llm.ToolCall{
							Name: part.FunctionCall.Name,
							Function: llm.FunctionCall{
								Name:      part.FunctionCall.Name,
								Arguments: string(argsB),
							},
							// Keep the original call so replay preserves
							// thought signatures.
							Meta: map[string]any{
								"gemini_function_call": part.FunctionCall,
							},
						})
						slog.Debug("Tool call", "provider", "gemini", "name", part.FunctionCall.Name, "args", string(argsB))
					}
				}

				if len(blocks) > 0 || len(toolCalls) > 0 {
					chunkCh <- llm.StreamChunk{ContentBlocks: blocks, ToolCalls: toolCalls}
				}
			}
		}

		if lastUsage != nil {
			chunkCh <- llm.NewFinalChunk(lastUsage.StopReason, lastUsage)
			llm.LogUsage(g.model, lastUsage)
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

// normalizeStopReason maps genai finish reasons onto the shared stop
// reason constants.
func normalizeStopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.StopReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.StopReasonLength
	default:
		return string(reason)
	}
}

// convertTools builds genai declarations, roundtripping each parameter
// schema through JSON into genai.Schema.
func (g *Client) convertTools(tools []llm.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	var fds []*genai.FunctionDeclaration
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
		}
		schemaB, err := json.Marshal(llm.ObjectSchema(t))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for tool %s: %w", t.Name(), err)
		}
		var schema genai.Schema
		if err := json.Unmarshal(schemaB, &schema); err != nil {
			return nil, fmt.Errorf("failed to build schema for tool %s: %w", t.Name(), err)
		}
		fd.Parameters = &schema
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}, nil
}

func (g *Client) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			var parts []*genai.Part
			for _, block := range msg.Content {
				if block.Type == llm.BlockTypeText && block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			}
			if len(parts) > 0 {
				systemInstruction = &genai.Content{Parts: parts}
			}
			continue
		}

		if msg.Role == llm.RoleTool {
			// Tool results travel as user-role function responses.
			name := msg.ToolName
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     name,
						Response: map[string]any{"result": msg.GetTextContent()},
					},
				}},
			})
			continue
		}

		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part

		// Gemini requires the assistant's calls echoed before the results.
		for _, tc := range msg.ToolCalls {
			if tc.Meta != nil {
				if originalFC, ok := tc.Meta["gemini_function_call"].(*genai.FunctionCall); ok {
					parts = append(parts, &genai.Part{FunctionCall: originalFC})
					continue
				}
			}
			var args map[string]any
			json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Function.Name,
					Args: args,
				},
			})
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			case llm.BlockTypeThinking:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text, Thought: true})
				}
			case llm.BlockTypeImage:
				if block.Source != nil {
					data, err := block.Source.Bytes()
					if err != nil {
						slog.Warn("Failed to load image attachment", "provider", "gemini", "path", block.Source.Path, "error", err)
					} else if len(data) > 0 {
						parts = append(parts, &genai.Part{
							InlineData: &genai.Blob{
								MIMEType: block.Source.MediaType,
								Data:     data,
							},
						})
					}
				}
			}
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents, systemInstruction
}

func (g *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(msg, "503") || strings.Contains(lower, "overloaded") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(lower, "resource exhausted") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(lower, "internal error") {
		return true
	}
	return false
}
