package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type contextKey string

// TraceContextKey carries the per-request trace ID used to group debug
// chunk logs under one directory.
const TraceContextKey contextKey = "llm_trace_id"

// StreamDebugger appends raw provider chunks to a per-stream log file so
// malformed responses can be inspected after the fact.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens the debug file for one stream. When disabled it
// returns an inert instance and every write is a no-op.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{}
	}

	debugDir := filepath.Join("debug", "chunks", provider)
	if traceID, ok := ctx.Value(TraceContextKey).(string); ok && traceID != "" {
		debugDir = filepath.Join("debug", "chunks", traceID, provider)
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{}
	}

	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{}
	}

	slog.Debug("Stream debug ON", "provider", provider, "file", filename)
	return &StreamDebugger{file: f, enabled: true}
}

// Write appends one raw chunk followed by a newline.
func (d *StreamDebugger) Write(data []byte) {
	if !d.enabled || d.file == nil {
		return
	}
	d.file.Write(data)
	d.file.WriteString("\n")
}

// WriteString appends one raw chunk string followed by a newline.
func (d *StreamDebugger) WriteString(s string) {
	if !d.enabled || d.file == nil {
		return
	}
	d.file.WriteString(s)
	d.file.WriteString("\n")
}

// Close releases the file handle.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
