package tools

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ScreenshotTool captures images from Unity cameras through the Editor
// bridge and returns them as image content the agent can look at.
type ScreenshotTool struct {
	conn Commander
}

func NewScreenshotTool(conn Commander) *ScreenshotTool {
	return &ScreenshotTool{conn: conn}
}

func (t *ScreenshotTool) Name() string {
	return "manage_screenshot"
}

func (t *ScreenshotTool) Description() string {
	return "Takes screenshots of Unity cameras and returns them as images. " +
		"Use action 'capture' to grab a frame, 'list_cameras' to enumerate capturable cameras."
}

func (t *ScreenshotTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Operation: 'capture' (default) or 'list_cameras'.",
		},
		"camera_name": map[string]any{
			"type":        "string",
			"description": "Camera to capture from. Defaults to the main camera.",
		},
		"width": map[string]any{
			"type":        "integer",
			"description": "Screenshot width in pixels. Defaults to the camera resolution.",
		},
		"height": map[string]any{
			"type":        "integer",
			"description": "Screenshot height in pixels. Defaults to the camera resolution.",
		},
		"format": map[string]any{
			"type":        "string",
			"description": "Image format: 'PNG' (default) or 'JPG'.",
		},
	}
}

func (t *ScreenshotTool) RequiredParameters() []string {
	return []string{}
}

// Execute forwards the request to the Editor and reshapes the reply.
// Captures come back as an image block annotated with camera, resolution
// and format; every other action passes the Editor payload through
// unchanged. All failures, upstream or local, become failure results;
// nothing here returns a Go error for an operation that ran.
func (t *ScreenshotTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	action := stringArg(args, "action")
	if action == "" {
		action = "capture"
	}
	format := stringArg(args, "format")
	if format == "" {
		format = "PNG"
	}

	// Wire params use the Editor plugin's camelCase keys; unset optionals
	// are stripped so the plugin applies its own defaults.
	params := map[string]any{
		"action": action,
		"format": format,
	}
	if camera := stringArg(args, "camera_name"); camera != "" {
		params["cameraName"] = camera
	}
	if width, ok := intArg(args, "width"); ok {
		params["width"] = width
	}
	if height, ok := intArg(args, "height"); ok {
		params["height"] = height
	}

	resp, err := t.conn.SendCommand(ctx, "manage_screenshot", params)
	if err != nil {
		return failure("screenshot command failed: " + err.Error()), nil
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
		message = "Screenshot operation successful."
	}

	imageData, hasImage := data["imageData"].(string)
	if action != "capture" || !hasImage {
		// Non-capture actions (and captures the Editor answered without
		// pixels) pass the payload through untouched.
		payload, err := json.Marshal(data)
		if err != nil {
			return failure("failed to encode screenshot data: " + err.Error()), nil
		}
		return &api.ToolResult{
			Content: []api.ContentBlock{
				{Type: "text", Text: message},
				{Type: "text", Text: string(payload)},
			},
			Details: map[string]any{"success": true, "data": data},
		}, nil
	}

	raw, err := Base64Decode(imageData)
	if err != nil {
		return failure("malformed image data: " + err.Error()), nil
	}

	mimeType := "image/png"
	if f, _ := data["format"].(string); f == "JPG" || f == "JPEG" {
		mimeType = "image/jpeg"
	}
	resolution := dimension(data["width"]) + "x" + dimension(data["height"])
	camera, _ := data["cameraName"].(string)

	if resp.Message == "" {
		message = "Screenshot captured successfully."
	}

	return &api.ToolResult{
		Content: []api.ContentBlock{
			{Type: "text", Text: message},
			{Type: "image", Data: Base64Encode(raw), MimeType: mimeType},
		},
		Details: map[string]any{
			"success":    true,
			"camera":     camera,
			"resolution": resolution,
			"format":     data["format"],
		},
	}, nil
}
