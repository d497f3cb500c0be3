package api

import (
	"context"

	"talos/pkg/llm"
)

// AgentEngine is the core reasoning loop: it takes a user message plus the
// session history and drives the LLM/tool cycle to completion.
type AgentEngine interface {
	HandleMessage(ctx context.Context, msg *UnifiedMessage, history *llm.History) llm.Message
	SetResponder(responder MessageResponder)
	SetToolRegistry(tr ToolRegistry)
	RegisterTool(tools ...Tool)
}
