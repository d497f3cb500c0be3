package tools

import (
	"context"

	"talos/pkg/api"
)

// ConsoleTool reads and clears the Unity Editor console, the agent's main
// window into compile errors and runtime logs.
type ConsoleTool struct {
	conn Commander
}

func NewConsoleTool(conn Commander) *ConsoleTool {
	return &ConsoleTool{conn: conn}
}

func (t *ConsoleTool) Name() string {
	return "read_console"
}

func (t *ConsoleTool) Description() string {
	return "Reads or clears Unity Editor console messages (errors, warnings, logs)."
}

func (t *ConsoleTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Operation: 'get' (default) or 'clear'.",
		},
		"types": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Message types to include: 'error', 'warning', 'log'. Defaults to all.",
		},
		"count": map[string]any{
			"type":        "integer",
			"description": "Maximum number of messages to return, newest first.",
		},
		"filter_text": map[string]any{
			"type":        "string",
			"description": "Only return messages containing this text.",
		},
	}
}

func (t *ConsoleTool) RequiredParameters() []string {
	return []string{}
}

func (t *ConsoleTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	action := stringArg(args, "action")
	if action == "" {
		action = "get"
	}

	params := map[string]any{"action": action}
	if types, ok := args["types"].([]any); ok && len(types) > 0 {
		params["types"] = types
	}
	if count, ok := intArg(args, "count"); ok {
		params["count"] = count
	}
	if filter := stringArg(args, "filter_text"); filter != "" {
		params["filterText"] = filter
	}

	resp, err := t.conn.SendCommand(ctx, "read_console", params)
	if err != nil {
		return failure("console command failed: " + err.Error()), nil
	}
	if !resp.Success() {
		return failure(resp.ErrorText()), nil
	}

	data, err := resp.Data()
	if err != nil {
		return failure(err.Error()), nil
	}

	message := resp.Message
	if message == "" {
		message = "Console operation successful."
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return failure("failed to encode console data: " + err.Error()), nil
	}

	return &api.ToolResult{
		Content: []api.ContentBlock{
			{Type: "text", Text: message},
			{Type: "text", Text: string(payload)},
		},
		Details: map[string]any{"success": true, "data": data},
	}, nil
}
