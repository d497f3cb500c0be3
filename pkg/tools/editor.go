package tools

import (
	"context"

	"talos/pkg/api"
)

// EditorTool drives Editor-level state: play mode, pause, and state
// queries.
type EditorTool struct {
	conn Commander
}

func NewEditorTool(conn Commander) *EditorTool {
	return &EditorTool{conn: conn}
}

func (t *EditorTool) Name() string {
	return "manage_editor"
}

func (t *EditorTool) Description() string {
	return "Controls the Unity Editor: enter/exit play mode, pause, and query editor state."
}

func (t *EditorTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Operation: 'play', 'pause', 'stop' or 'get_state'.",
		},
		"wait_for_completion": map[string]any{
			"type":        "boolean",
			"description": "Block until the editor finishes the transition.",
		},
	}
}

func (t *EditorTool) RequiredParameters() []string {
	return []string{"action"}
}

func (t *EditorTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	action := stringArg(args, "action")
	if action == "" {
		return failure("missing required parameter 'action'"), nil
	}

	params := map[string]any{"action": action}
	if wait, ok := args["wait_for_completion"].(bool); ok {
		params["waitForCompletion"] = wait
	}

	resp, err := t.conn.SendCommand(ctx, "manage_editor", params)
	if err != nil {
		return failure("editor command failed: " + err.Error()), nil
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
		message = "Editor operation successful."
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return failure("failed to encode editor data: " + err.Error()), nil
	}

	return &api.ToolResult{
		Content: []api.ContentBlock{
			{Type: "text", Text: message},
			{Type: "text", Text: string(payload)},
		},
		Details: map[string]any{"success": true, "data": data},
	}, nil
}
