package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/config"
	"talos/pkg/llm"
	"talos/pkg/tools"
	"talos/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine runs the reasoning loop: stream the model, execute the tool
// calls it makes against the Unity Editor, feed the results back, and
// recurse until the model answers in plain text.
// It implements api.AgentEngine.
type Engine struct {
	client       llm.Client
	responder    api.MessageResponder
	sysCfg       *config.SystemConfig
	appCfg       *config.Config
	toolRegistry api.ToolRegistry
	sessions     *llm.SessionStore
}

func NewEngine(
	client llm.Client,
	appCfg *config.Config,
	sysCfg *config.SystemConfig,
	sessions *llm.SessionStore,
) *Engine {
	return &Engine{
		client:   client,
		appCfg:   appCfg,
		sysCfg:   sysCfg,
		sessions: sessions,
	}
}

// SetResponder sets the messaging interface used to send replies.
func (e *Engine) SetResponder(responder api.MessageResponder) {
	e.responder = responder
}

// SetToolRegistry sets the registry consulted for tool execution.
func (e *Engine) SetToolRegistry(tr api.ToolRegistry) {
	e.toolRegistry = tr
}

// RegisterTool adds tools to the engine's registry, creating the registry
// on first use.
func (e *Engine) RegisterTool(tl ...api.Tool) {
	if e.toolRegistry == nil {
		e.toolRegistry = tools.NewRegistry()
	}
	for _, t := range tl {
		e.toolRegistry.Register(t)
	}
}

// OnMessage implements api.MessageProcessor: it resolves the session's
// history and runs the reasoning loop on its own goroutine so the
// channel's read loop never blocks.
func (e *Engine) OnMessage(msg *api.UnifiedMessage) {
	traceID := msg.TraceID
	if traceID == "" {
		traceID = utils.GenerateTraceID()
		msg.TraceID = traceID
	}
	ctx := context.WithValue(context.Background(), llm.TraceContextKey, traceID)

	sessionID := fmt.Sprintf("%s_%s", msg.Session.ChannelID, msg.Session.ChatID)
	history, err := e.sessions.GetHistory(sessionID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load session history", "session", sessionID, "error", err)
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Failed to load session: %v", err))
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "Message handling panicked", "session", sessionID, "error", r)
			}
		}()
		e.HandleMessage(ctx, msg, history)
	}()
}

// HandleMessage is the entry point for one user message.
func (e *Engine) HandleMessage(ctx context.Context, msg *api.UnifiedMessage, history *llm.History) llm.Message {
	sessionID := fmt.Sprintf("%s_%s", msg.Session.ChannelID, msg.Session.ChatID)

	if e.appCfg.SystemPrompt != "" {
		history.EnsureSystemMessage(e.appCfg.SystemPrompt)
	}

	if strings.HasPrefix(msg.Content, "/") {
		return e.handleSlashCommand(ctx, msg, history, sessionID)
	}

	userMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleUser,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}
	if msg.Content != "" {
		userMsg.Content = append(userMsg.Content, llm.NewTextBlock(msg.Content))
	}
	for _, file := range msg.Files {
		if file.Path != "" {
			userMsg.Content = append(userMsg.Content, llm.NewImageBlockFromFile(file.Path, file.MimeType))
			slog.InfoContext(ctx, "Attached file from disk", "name", file.Filename, "mime", file.MimeType, "path", file.Path)
		} else {
			userMsg.Content = append(userMsg.Content, llm.NewImageBlock(file.Data, file.MimeType))
			slog.InfoContext(ctx, "Attached file inline", "name", file.Filename, "mime", file.MimeType, "bytes", len(file.Data))
		}
	}

	history.Add(userMsg)
	e.sessions.SaveSession(sessionID)

	assistantMsg := e.ProcessLLMStream(ctx, msg, history)

	if len(assistantMsg.Content) > 0 {
		history.Add(assistantMsg)
		e.sessions.SaveSession(sessionID)
	}
	return assistantMsg
}

// handleSlashCommand executes manual tool invocations of the form
// /[tool] [action] [JSON params], e.g. /screenshot capture or
// /manage_screenshot capture {"cameraName":"Main Camera"}.
func (e *Engine) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, history *llm.History, sessionID string) llm.Message {
	parts := strings.SplitN(strings.TrimPrefix(msg.Content, "/"), " ", 3)
	if len(parts) < 2 {
		e.responder.SendReply(msg.Session, "❌ Format error. Use: /[tool_name] [action] [JSON_params(optional)]\nExample: `/screenshot capture` or `/screenshot capture {\"cameraName\":\"Main Camera\"}`")
		return llm.Message{}
	}

	toolName := parts[0]
	action := parts[1]

	if toolName == "notools" {
		msg.NoTools = true
		msg.Content = action
		if len(parts) > 2 {
			msg.Content += " " + parts[2]
		}

		assistantMsg := e.ProcessLLMStream(ctx, msg, history)
		if len(assistantMsg.Content) > 0 {
			history.Add(assistantMsg)
			e.sessions.SaveSession(sessionID)
		}
		return assistantMsg
	}

	var params map[string]any
	if len(parts) > 2 {
		if err := json.Unmarshal([]byte(parts[2]), &params); err != nil {
			e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Parameter parsing failed: %v", err))
			return llm.Message{}
		}
	} else {
		params = make(map[string]any)
	}

	args := make(map[string]any)
	args["action"] = action
	maps.Copy(args, params)

	tool, ok := e.toolRegistry.Get(toolName)
	if !ok {
		// Allow shorthand: /screenshot resolves to manage_screenshot.
		tool, ok = e.toolRegistry.Get("manage_" + toolName)
		if !ok {
			e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Tool not found: %s", toolName))
			return llm.Message{}
		}
	}

	e.responder.SendReply(msg.Session, fmt.Sprintf("🛠️ Manually executing tool: %s/%s...", toolName, action))

	res, err := tool.Execute(ctx, args)
	if err != nil {
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Execution error: %v", err))
		return llm.Message{}
	}

	resBlocks := ConvertToolResult(res)
	e.StreamBlocks(ctx, msg.Session, resBlocks)

	return llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   resBlocks,
		Timestamp: time.Now().Unix(),
	}
}

// ProcessLLMStream drives one model turn: stream the response to the
// channel, run any tool calls, then recurse so the model can use the
// results.
func (e *Engine) ProcessLLMStream(ctx context.Context, msg *api.UnifiedMessage, history *llm.History) llm.Message {
	sysCfg := e.sysCfg
	timeout := time.Duration(sysCfg.LLMTimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var availableTools []llm.Tool
	if sysCfg.EnableTools && !msg.NoTools {
		for _, t := range e.toolRegistry.GetAll() {
			availableTools = append(availableTools, t)
		}
	}

	chunkCh, err := e.client.StreamChat(runCtx, history.GetMessages(), availableTools)
	if err != nil {
		slog.ErrorContext(runCtx, "LLM stream init failed", "error", err)
		errMsg := fmt.Sprintf("Error during stream initiation: %v", err)
		e.responder.SendReply(msg.Session, "❌ "+errMsg)

		return llm.Message{
			ID:        utils.GenerateID(),
			Role:      llm.RoleAssistant,
			Content:   []llm.ContentBlock{llm.NewErrorBlock(errMsg)},
			Timestamp: time.Now().Unix(),
		}
	}

	blockCh := make(chan llm.ContentBlock, 100)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := e.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.ErrorContext(runCtx, "Failed to stream reply", "error", err)
		}
	}()

	closed := false
	safeClose := func() {
		if !closed {
			close(blockCh)
			<-streamDone
			closed = true
		}
	}
	defer safeClose()

	assistantMsg, streamErr := e.CollectChunks(runCtx, msg.Session, chunkCh, blockCh)
	safeClose()

	if len(assistantMsg.ToolCalls) > 0 {
		sessionID := fmt.Sprintf("%s_%s", msg.Session.ChannelID, msg.Session.ChatID)
		history.Add(assistantMsg)
		e.sessions.SaveSession(sessionID)

		for _, tc := range assistantMsg.ToolCalls {
			e.ResolveAndCommitToolCall(ctx, tc, msg, history)
		}

		e.sessions.SaveSession(sessionID)
		return e.ProcessLLMStream(ctx, msg, history)
	}

	reason := "UNKNOWN"
	if assistantMsg.Usage != nil {
		reason = assistantMsg.Usage.StopReason
	}

	hasContent, hasThinking, preview := SummarizeContent(assistantMsg)
	isNormal := streamErr == nil && (hasContent || hasThinking) && (reason == llm.StopReasonStop || reason == "UNKNOWN")

	if !isNormal {
		if reason == llm.StopReasonLength {
			slog.InfoContext(runCtx, "Response truncated by length limit", "thinking", hasThinking, "content", hasContent)
			e.responder.SendReply(msg.Session, "⚠️ Response truncated due to length limit.")
			return assistantMsg
		}

		if retried := e.AttemptRetry(ctx, msg, reason, streamErr, preview); retried {
			safeClose()
			return e.ProcessLLMStream(ctx, msg, history)
		}

		if streamErr != nil {
			assistantMsg.AddContentBlock(llm.NewErrorBlock(fmt.Sprintf("\n❌ Stream error: %v", streamErr)))
		} else if !hasContent && !hasThinking {
			assistantMsg.AddContentBlock(llm.NewErrorBlock(fmt.Sprintf("\n❌ Abnormal response: %s", reason)))
		}
	}

	return assistantMsg
}

// CollectChunks drains one stream into an assistant message, forwarding
// displayable blocks to blockCh as they arrive.
func (e *Engine) CollectChunks(ctx context.Context, session api.SessionContext, chunkCh <-chan llm.StreamChunk, blockCh chan<- llm.ContentBlock) (llm.Message, error) {
	msg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}
	var lastError error

	// Fire a "thinking" signal when the first chunk is slow to arrive.
	delay := time.Duration(e.sysCfg.ThinkingInitDelayMs) * time.Millisecond
	thinkingTimer := time.NewTimer(delay)
	defer thinkingTimer.Stop()
	timerChan := thinkingTimer.C

	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				return msg, lastError
			}
			if chunk.RawError != nil {
				return msg, chunk.RawError
			}

			if thinkingTimer != nil {
				thinkingTimer.Stop()
				thinkingTimer = nil
				timerChan = nil
			}

			e.ProcessChunk(ctx, chunk, &msg, blockCh)

			if chunk.IsFinal {
				return msg, lastError
			}

		case <-timerChan:
			e.responder.SendSignal(session, "thinking")
			timerChan = nil
		}
	}
}

// HandleToolCall resolves, parses and executes one tool call, returning
// the result as content blocks for the tool message.
func (e *Engine) HandleToolCall(ctx context.Context, tc llm.ToolCall) []llm.ContentBlock {
	cleanName := strings.TrimPrefix(tc.Name, "functions.")

	tool, ok := e.toolRegistry.Get(cleanName)
	if !ok {
		slog.ErrorContext(ctx, "Unknown tool call", "name", tc.Name, "clean_name", cleanName)
		return []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: Unknown tool '%s'", tc.Name))}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		slog.ErrorContext(ctx, "Failed to parse tool args", "error", err)
		return []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: Failed to parse tool arguments: %v", err))}
	}

	slog.InfoContext(ctx, "Executing tool", "name", tc.Name, "args", args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		slog.ErrorContext(ctx, "Tool execution error", "name", tc.Name, "error", err)
		return []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("Error: Tool execution failed: %v", err))}
	}

	return ConvertToolResult(res)
}

// ResolveAndCommitToolCall guarantees a tool message lands in the history
// for every call, even when the tool panics.
func (e *Engine) ResolveAndCommitToolCall(ctx context.Context, tc llm.ToolCall, msg *api.UnifiedMessage, history *llm.History) {
	var resultBlocks []llm.ContentBlock

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "tool", tc.Name, "error", r)
			resultBlocks = []llm.ContentBlock{llm.NewTextBlock("Error: Internal processing panic")}
		}

		toolResMsg := llm.Message{
			ID:         utils.GenerateID(),
			Role:       llm.RoleTool,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    resultBlocks,
			Timestamp:  time.Now().Unix(),
		}
		history.Add(toolResMsg)

		e.responder.SendSignal(msg.Session, "role:system")
		e.StreamBlocks(ctx, msg.Session, resultBlocks)
	}()

	resultBlocks = e.HandleToolCall(ctx, tc)
}

// StreamBlocks pipes a fixed slice of blocks through the responder's
// streaming path.
func (e *Engine) StreamBlocks(ctx context.Context, session api.SessionContext, blocks []llm.ContentBlock) {
	if len(blocks) == 0 {
		return
	}
	resCh := make(chan llm.ContentBlock, len(blocks))
	for _, b := range blocks {
		resCh <- b
	}
	close(resCh)
	if err := e.responder.StreamReply(session, resCh); err != nil {
		slog.ErrorContext(ctx, "Failed to stream blocks", "error", err)
	}
}

// ProcessChunk folds one chunk into the accumulating message and forwards
// displayable blocks.
func (e *Engine) ProcessChunk(ctx context.Context, chunk llm.StreamChunk, msg *llm.Message, blockCh chan<- llm.ContentBlock) {
	if chunk.Error != "" {
		errorMsg := fmt.Sprintf("\n❌ %s", chunk.Error)
		msg.AddContentBlock(llm.NewErrorBlock(errorMsg))
		blockCh <- llm.NewErrorBlock(errorMsg)
	}

	for _, block := range chunk.ContentBlocks {
		msg.AddContentBlock(block)

		switch block.Type {
		case llm.BlockTypeText:
			blockCh <- block
		case llm.BlockTypeThinking:
			if e.sysCfg.ShowThinking {
				blockCh <- block
			}
		case llm.BlockTypeImage:
			blockCh <- block
		}
	}

	if len(chunk.ToolCalls) > 0 {
		msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
	}
	if chunk.Usage != nil {
		msg.Usage = chunk.Usage
	}
}

// AttemptRetry reports whether the turn should be retried, incrementing
// the message's retry counter when it is.
func (e *Engine) AttemptRetry(ctx context.Context, msg *api.UnifiedMessage, reason string, streamErr error, preview string) bool {
	if streamErr != nil && !e.client.IsTransientError(streamErr) {
		slog.ErrorContext(ctx, "Non-transient error, skipping retry", "error", streamErr)
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ %v", streamErr))
		return false
	}

	maxRetries := e.sysCfg.MaxRetries
	if msg.RetryCount >= maxRetries {
		slog.ErrorContext(ctx, "Max retries reached", "max", maxRetries, "reason", reason, "error", streamErr)
		e.responder.SendReply(msg.Session, "❌ AI response remains abnormal, please try rephrasing or restarting the conversation.")
		return false
	}

	msg.RetryCount++
	slog.WarnContext(ctx, "Abnormal response, retrying",
		"reason", reason,
		"error", streamErr,
		"preview", preview,
		"retry", fmt.Sprintf("%d/%d", msg.RetryCount, maxRetries),
	)

	retryNotice := fmt.Sprintf("⚠️ Abnormal response (%s), attempting automatic fix (%d/%d)...", reason, msg.RetryCount, maxRetries)
	if streamErr != nil {
		retryNotice = fmt.Sprintf("⚠️ Connection error (%v), attempting automatic recovery (%d/%d)...", streamErr, msg.RetryCount, maxRetries)
	}
	e.responder.SendReply(msg.Session, retryNotice)

	time.Sleep(time.Duration(e.sysCfg.RetryDelayMs) * time.Millisecond)
	return true
}

// SummarizeContent derives content flags and a short preview in one pass.
func SummarizeContent(msg llm.Message) (hasContent, hasThinking bool, preview string) {
	var sb strings.Builder
	sb.Grow(100)

	for _, b := range msg.Content {
		if b.Type == llm.BlockTypeThinking && len(b.Text) > 0 {
			hasThinking = true
		} else if b.Type == llm.BlockTypeText && len(b.Text) > 0 {
			hasContent = true
			if sb.Len() < 100 {
				remaining := 100 - sb.Len()
				if len(b.Text) > remaining {
					sb.WriteString(b.Text[:remaining])
				} else {
					sb.WriteString(b.Text)
				}
			}
		}
	}

	preview = sb.String()
	if len(preview) >= 100 {
		preview += "..."
	}
	return
}

// ConvertToolResult transforms an api.ToolResult into llm content blocks,
// decoding image payloads back to raw bytes.
func ConvertToolResult(res *api.ToolResult) []llm.ContentBlock {
	var blocks []llm.ContentBlock
	for _, b := range res.Content {
		if b.Type == llm.BlockTypeImage {
			data, err := tools.Base64Decode(b.Data)
			if err != nil {
				slog.Error("Failed to decode image data", "error", err)
				blocks = append(blocks, llm.NewTextBlock(fmt.Sprintf("Error: Failed to decode image: %v", err)))
				continue
			}
			mimeType := b.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			blocks = append(blocks, llm.NewImageBlock(data, mimeType))
		} else {
			blocks = append(blocks, llm.NewTextBlock(b.Text))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, llm.NewTextBlock("(No output)"))
	}
	return blocks
}
