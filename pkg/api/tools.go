package api

import "context"

// Tool is a capability the agent can invoke against the Unity Editor (or
// anything else). The schema methods feed the LLM providers' function
// declarations; Execute carries out the actual work.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-Schema-shaped property map for the tool's
	// arguments, keyed by argument name.
	Parameters() map[string]any
	RequiredParameters() []string
	// Execute runs the tool. Operational failures (a remote command that
	// errored, an undecodable payload) are reported inside the ToolResult;
	// a non-nil error means the invocation never ran at all.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult is the outcome of a tool execution: an ordered list of
// content blocks plus free-form metadata for the caller.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	Details map[string]any `json:"details,omitempty"`
}

// ContentBlock is one typed part of a tool result. Text blocks carry Text;
// image blocks carry base64 Data and a MIME type.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolRegistry manages the set of tools exposed to the agent.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
}
