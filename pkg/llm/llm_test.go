package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talos/pkg/config"
)

// stubClient fails a configurable number of times before streaming one
// text chunk.
type stubClient struct {
	name         string
	failuresLeft int
	transient    bool
	calls        int
}

func (c *stubClient) Provider() string { return c.name }

func (c *stubClient) SetDebug(enabled bool) {}

func (c *stubClient) IsTransientError(err error) bool { return c.transient }

func (c *stubClient) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	c.calls++
	if c.failuresLeft > 0 {
		c.failuresLeft--
		return nil, errors.New(c.name + " unavailable")
	}

	ch := make(chan StreamChunk, 2)
	ch <- NewTextChunk("from " + c.name)
	ch <- NewFinalChunk(StopReasonStop, &Usage{StopReason: StopReasonStop})
	close(ch)
	return ch, nil
}

func drainText(t *testing.T, ch <-chan StreamChunk) string {
	t.Helper()
	var out string
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			if b.Type == BlockTypeText {
				out += b.Text
			}
		}
	}
	return out
}

func TestFallbackRetriesTransientErrors(t *testing.T) {
	primary := &stubClient{name: "primary", failuresLeft: 2, transient: true}
	backup := &stubClient{name: "backup"}

	f := &Fallback{
		Clients:    []Client{primary, backup},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}

	ch, err := f.StreamChat(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "from primary", drainText(t, ch))
	assert.Equal(t, 3, primary.calls)
	assert.Zero(t, backup.calls, "backup must stay idle while primary recovers")
}

func TestFallbackSkipsToNextOnPermanentError(t *testing.T) {
	primary := &stubClient{name: "primary", failuresLeft: 10, transient: false}
	backup := &stubClient{name: "backup"}

	f := &Fallback{
		Clients:    []Client{primary, backup},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}

	ch, err := f.StreamChat(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "from backup", drainText(t, ch))
	assert.Equal(t, 1, primary.calls, "permanent errors must not be retried")
}

func TestFallbackAllProvidersFail(t *testing.T) {
	f := &Fallback{
		Clients: []Client{
			&stubClient{name: "a", failuresLeft: 10},
			&stubClient{name: "b", failuresLeft: 10},
		},
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}

	_, err := f.StreamChat(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
	assert.Contains(t, err.Error(), "b unavailable")
}

// declTool is a minimal schema-only tool for declaration tests.
type declTool struct{}

func (declTool) Name() string        { return "manage_screenshot" }
func (declTool) Description() string { return "Capture or analyze Editor screenshots." }
func (declTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{"type": "string"},
	}
}
func (declTool) RequiredParameters() []string { return []string{"action"} }

func TestObjectSchema(t *testing.T) {
	got := ObjectSchema(declTool{})
	want := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string"},
		},
		"required": []string{"action"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestFunctionDeclarations(t *testing.T) {
	decls := FunctionDeclarations([]Tool{declTool{}})
	require.Len(t, decls, 1)
	assert.Equal(t, "function", decls[0]["type"])

	fn, ok := decls[0]["function"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "manage_screenshot", fn["name"])
}

// countingFactory stands in for a provider package.
type countingFactory struct {
	clients []Client
}

func (f *countingFactory) Create(group ProviderGroupConfig, system *config.SystemConfig) ([]Client, error) {
	return f.clients, nil
}

func TestNewFromConfigSingleClientUnwrapped(t *testing.T) {
	only := &stubClient{name: "only"}
	RegisterProvider("stub-single", &countingFactory{clients: []Client{only}})

	client, err := NewFromConfig([]byte(`[{"type":"stub-single","models":["m"]}]`), config.DefaultSystemConfig())
	require.NoError(t, err)
	assert.Same(t, Client(only), client, "a lone client must not be wrapped in a fallback chain")
}

func TestNewFromConfigBuildsFallbackChain(t *testing.T) {
	RegisterProvider("stub-pair", &countingFactory{clients: []Client{
		&stubClient{name: "a"},
		&stubClient{name: "b"},
	}})

	client, err := NewFromConfig([]byte(`[{"type":"stub-pair","models":["m1","m2"]}]`), config.DefaultSystemConfig())
	require.NoError(t, err)

	f, ok := client.(*Fallback)
	require.True(t, ok)
	assert.Len(t, f.Clients, 2)
}

func TestNewFromConfigRejectsEmpty(t *testing.T) {
	_, err := NewFromConfig(nil, config.DefaultSystemConfig())
	assert.Error(t, err)

	_, err = NewFromConfig([]byte(`[{"type":"no-such-provider","models":["m"]}]`), config.DefaultSystemConfig())
	assert.Error(t, err)
}
