package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talos/pkg/unity"
)

// fakeConn records the command it receives and plays back a canned
// response.
type fakeConn struct {
	gotType   string
	gotParams map[string]any
	resp      *unity.Response
	err       error
}

func (f *fakeConn) SendCommand(ctx context.Context, cmdType string, params map[string]any) (*unity.Response, error) {
	f.gotType = cmdType
	f.gotParams = params
	return f.resp, f.err
}

func successResponse(t *testing.T, message string, result map[string]any) *unity.Response {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	return &unity.Response{Status: "success", Message: message, Result: raw}
}

func TestScreenshotParamsStripUnsetOptionals(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{})}
	tool := NewScreenshotTool(conn)

	_, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, "manage_screenshot", conn.gotType)
	want := map[string]any{"action": "capture", "format": "PNG"}
	if diff := cmp.Diff(want, conn.gotParams); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestScreenshotParamsForwardSetOptionals(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{})}
	tool := NewScreenshotTool(conn)

	_, err := tool.Execute(context.Background(), map[string]any{
		"action":      "capture",
		"camera_name": "TopDownCamera",
		"width":       float64(640),
		"height":      float64(480),
		"format":      "JPG",
	})
	require.NoError(t, err)

	want := map[string]any{
		"action":     "capture",
		"cameraName": "TopDownCamera",
		"width":      640,
		"height":     480,
		"format":     "JPG",
	}
	if diff := cmp.Diff(want, conn.gotParams); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestScreenshotNonPositiveDimensionsAreStripped(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{})}
	tool := NewScreenshotTool(conn)

	_, err := tool.Execute(context.Background(), map[string]any{
		"width":  float64(0),
		"height": float64(-100),
	})
	require.NoError(t, err)
	assert.NotContains(t, conn.gotParams, "width")
	assert.NotContains(t, conn.gotParams, "height")
}

func TestScreenshotUpstreamFailure(t *testing.T) {
	conn := &fakeConn{resp: &unity.Response{Status: "error", Error: "no camera named 'Ghost'"}}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{"camera_name": "Ghost"})
	require.NoError(t, err, "upstream failures must not surface as Go errors")

	assert.Equal(t, false, res.Details["success"])
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].Text, "no camera named 'Ghost'")
}

func TestScreenshotTransportErrorBecomesFailureResult(t *testing.T) {
	conn := &fakeConn{err: fmt.Errorf("unity editor not reachable at 127.0.0.1:6400")}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, res.Details["success"])
	assert.Contains(t, res.Content[0].Text, "not reachable")
}

func TestScreenshotCaptureReturnsAnnotatedImage(t *testing.T) {
	pixels := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}
	conn := &fakeConn{resp: successResponse(t, "Screenshot captured.", map[string]any{
		"imageData":  base64.StdEncoding.EncodeToString(pixels),
		"cameraName": "Main Camera",
		"width":      float64(1920),
		"height":     float64(1080),
		"format":     "PNG",
	})}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{"action": "capture"})
	require.NoError(t, err)

	assert.Equal(t, true, res.Details["success"])
	assert.Equal(t, "1920x1080", res.Details["resolution"])
	assert.Equal(t, "Main Camera", res.Details["camera"])
	assert.Equal(t, "PNG", res.Details["format"])

	require.Len(t, res.Content, 2)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Equal(t, "Screenshot captured.", res.Content[0].Text)
	assert.Equal(t, "image", res.Content[1].Type)
	assert.Equal(t, "image/png", res.Content[1].MimeType)

	decoded, err := base64.StdEncoding.DecodeString(res.Content[1].Data)
	require.NoError(t, err)
	assert.Equal(t, pixels, decoded)
}

func TestScreenshotJPGFormatSetsJpegMime(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{
		"imageData": base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}),
		"width":     float64(64),
		"height":    float64(64),
		"format":    "JPG",
	})}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Len(t, res.Content, 2)
	assert.Equal(t, "image/jpeg", res.Content[1].MimeType)
}

func TestScreenshotUnknownDimensionsRenderAsUnknown(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{
		"imageData": base64.StdEncoding.EncodeToString([]byte{1}),
	})}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "unknownxunknown", res.Details["resolution"])
}

func TestScreenshotMalformedBase64IsFailureNotPanic(t *testing.T) {
	conn := &fakeConn{resp: successResponse(t, "", map[string]any{
		"imageData": "this is not base64!!!",
	})}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{"action": "capture"})
	require.NoError(t, err)
	assert.Equal(t, false, res.Details["success"])
	assert.Contains(t, res.Content[0].Text, "malformed image data")
}

func TestScreenshotNonCaptureActionPassesDataThrough(t *testing.T) {
	cameras := map[string]any{
		"cameras": []any{"Main Camera", "TopDownCamera"},
	}
	conn := &fakeConn{resp: successResponse(t, "Found 2 cameras.", cameras)}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{"action": "list_cameras"})
	require.NoError(t, err)

	assert.Equal(t, true, res.Details["success"])
	if diff := cmp.Diff(cameras, res.Details["data"]); diff != "" {
		t.Errorf("data not passed through unchanged (-want +got):\n%s", diff)
	}
	require.Len(t, res.Content, 2)
	assert.Equal(t, "Found 2 cameras.", res.Content[0].Text)
}

func TestScreenshotCaptureWithoutImageDataFallsBackToPassthrough(t *testing.T) {
	// The Editor can answer a capture without pixels (e.g. deferred
	// capture); that must behave like a non-capture passthrough.
	conn := &fakeConn{resp: successResponse(t, "Capture scheduled.", map[string]any{"queued": true})}
	tool := NewScreenshotTool(conn)

	res, err := tool.Execute(context.Background(), map[string]any{"action": "capture"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["success"])
	assert.NotNil(t, res.Details["data"])
	for _, block := range res.Content {
		assert.NotEqual(t, "image", block.Type)
	}
}
