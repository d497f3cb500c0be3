package tools

import (
	"context"
	"fmt"

	"talos/pkg/api"
	"talos/pkg/unity"
)

// Commander is the slice of the Unity connection the tools need. Satisfied
// by *unity.Conn.
type Commander interface {
	SendCommand(ctx context.Context, cmdType string, params map[string]any) (*unity.Response, error)
}

// failure wraps a human-readable failure into a ToolResult. Tool-level
// failures never surface as Go errors: the agent (and the model) should
// see them as content it can react to.
func failure(msg string) *api.ToolResult {
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: "Error: " + msg}},
		Details: map[string]any{"success": false, "message": msg},
	}
}

// stringArg reads an optional string argument, trimming the type
// assertion noise at call sites.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads an optional positive integer argument. JSON numbers arrive
// as float64; zero, negative and non-numeric values read as unset.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v), true
		}
	case int:
		if v > 0 {
			return v, true
		}
	}
	return 0, false
}

// dimension renders a width/height value from a Unity payload for the
// "{width}x{height}" resolution string. Missing values render as
// "unknown".
func dimension(v any) string {
	switch n := v.(type) {
	case nil:
		return "unknown"
	case float64:
		return fmt.Sprintf("%d", int(n))
	case int:
		return fmt.Sprintf("%d", n)
	default:
		return fmt.Sprint(n)
	}
}
