// Package unity maintains the TCP link to the Unity Editor bridge plugin
// and runs commands over it. Frames are newline-delimited JSON; one
// command is in flight at a time.
package unity

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"talos/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameSize bounds a single response frame. Screenshot payloads are
// base64 PNGs of editor viewports, so this needs headroom.
const maxFrameSize = 64 << 20

// command is the wire format sent to the Editor.
type command struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the Editor's reply to a command, normalized so callers only
// branch on Success.
type Response struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
}

// Success reports whether the Editor completed the command.
func (r *Response) Success() bool {
	return r.Status == "success"
}

// ErrorText returns the failure description, falling back to Message and
// then to a generic line so callers always have something to surface.
func (r *Response) ErrorText() string {
	if r.Error != "" {
		return r.Error
	}
	if r.Message != "" {
		return r.Message
	}
	return "an unknown error occurred in the Unity Editor"
}

// Data decodes the result payload into a generic map. A missing payload
// yields an empty map.
func (r *Response) Data() (map[string]any, error) {
	data := make(map[string]any)
	if len(r.Result) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(r.Result, &data); err != nil {
		return nil, fmt.Errorf("malformed result payload: %w", err)
	}
	return data, nil
}

// Conn is a persistent client for the Editor bridge. Safe for concurrent
// use; commands are serialized over the single socket.
type Conn struct {
	cfg config.UnityConfig

	mu     sync.Mutex
	socket net.Conn
	reader *bufio.Reader
}

// NewConn prepares a client without dialing. The first command (or an
// explicit Connect) establishes the socket.
func NewConn(cfg config.UnityConfig) *Conn {
	return &Conn{cfg: cfg}
}

// Addr returns the bridge endpoint in host:port form.
func (c *Conn) Addr() string {
	return net.JoinHostPort(c.cfg.Host, fmt.Sprint(c.cfg.Port))
}

// Connect dials the Editor bridge. Calling it on a live connection is a
// no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.socket != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: time.Duration(c.cfg.DialTimeoutMs) * time.Millisecond}
	socket, err := dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("unity editor not reachable at %s: %w", c.Addr(), err)
	}

	c.socket = socket
	c.reader = bufio.NewReaderSize(socket, 1<<20)
	slog.Info("✅ Connected to Unity Editor", "addr", c.Addr())
	return nil
}

// Close tears the connection down. Safe on an unconnected client.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if c.socket == nil {
		return nil
	}
	err := c.socket.Close()
	c.socket = nil
	c.reader = nil
	return err
}

// Ping checks the bridge end to end with the Editor's ping command.
func (c *Conn) Ping(ctx context.Context) error {
	resp, err := c.SendCommand(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("unity ping failed: %s", resp.ErrorText())
	}
	return nil
}

// SendCommand runs one command against the Editor and returns its reply.
// A dead socket gets one reconnect-and-resend attempt before the error is
// reported; the Editor never sees a command twice within one call beyond
// that.
func (c *Conn) SendCommand(ctx context.Context, cmdType string, params map[string]any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	cmd := command{
		ID:     uuid.NewString(),
		Type:   cmdType,
		Params: params,
	}

	resp, err := c.roundTripLocked(ctx, &cmd)
	if err == nil {
		return resp, nil
	}

	// Stale socket (Editor recompiled, domain reload, ...): reconnect once
	// and replay the command.
	slog.Warn("Unity command failed, reconnecting", "type", cmdType, "id", cmd.ID, "error", err)
	c.closeLocked()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(c.cfg.ReconnectDelayMs) * time.Millisecond):
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	resp, err = c.roundTripLocked(ctx, &cmd)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("unity command %s failed: %w", cmdType, err)
	}
	return resp, nil
}

// readFrame reads one newline-terminated frame, erroring as soon as the
// accumulated bytes exceed limit instead of buffering an unbounded frame
// first.
func readFrame(r *bufio.Reader, limit int) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		frame = append(frame, chunk...)
		if len(frame) > limit {
			return nil, fmt.Errorf("frame exceeds %d bytes", limit)
		}
		if err == nil {
			return frame, nil
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}

func (c *Conn) roundTripLocked(ctx context.Context, cmd *command) (*Response, error) {
	frame, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	frame = append(frame, '\n')

	deadline := time.Now().Add(time.Duration(c.cfg.CommandTimeoutMs) * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.socket.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.socket.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	line, err := readFrame(c.reader, maxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response frame: %w", err)
	}

	slog.Debug("Unity command completed", "type", cmd.Type, "id", cmd.ID, "status", resp.Status)
	return &resp, nil
}
