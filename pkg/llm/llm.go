package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is the package-wide codec; everything in pkg/llm marshals through
// json-iterator for stdlib-compatible behavior.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool is the schema-only view of a tool, enough for providers to build
// their function-calling declarations. talos/pkg/api.Tool satisfies it.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	RequiredParameters() []string
}

// Client is a streaming chat client for one provider/model pair.
type Client interface {
	Provider() string

	// StreamChat starts a streaming completion over the given history,
	// offering the tools for function calling. The returned channel is
	// closed when the stream ends; the final chunk carries the stop
	// reason and usage.
	StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error)

	// IsTransientError reports whether err is worth retrying (rate
	// limits, 5xx, connection resets).
	IsTransientError(err error) bool

	SetDebug(enabled bool)
}

// Fallback chains multiple clients: each is retried up to MaxRetries on
// transient errors before moving to the next.
type Fallback struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *Fallback) Provider() string { return "fallback" }

func (f *Fallback) SetDebug(enabled bool) {
	for _, c := range f.Clients {
		c.SetDebug(enabled)
	}
}

func (f *Fallback) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	var lastErr error

	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Provider failed, trying fallback", "next", i+1, "error", lastErr)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for attempt := 1; attempt <= maxRetries; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && attempt < maxRetries {
				slog.Warn("Transient provider error, retrying", "provider", client.Provider(), "attempt", attempt, "error", err)
				continue
			}
			slog.Error("Provider error", "provider", client.Provider(), "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// IsTransientError on the chain is always false: by the time the Fallback
// itself errors, every child already exhausted its retries.
func (f *Fallback) IsTransientError(err error) bool { return false }

// LogUsage records a completed call's token accounting.
func LogUsage(model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.Info("📊 Usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop", usage.StopReason,
	)
}
