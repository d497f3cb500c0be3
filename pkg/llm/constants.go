package llm

// Normalized stop reasons. Providers map their native finish reasons onto
// these before emitting the final chunk.
const (
	StopReasonStop   = "stop"
	StopReasonLength = "length"
)

// Content block types used throughout the message pipeline.
const (
	BlockTypeText     = "text"
	BlockTypeThinking = "thinking"
	BlockTypeImage    = "image"
	BlockTypeError    = "error"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
