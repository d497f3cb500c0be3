package llm

import (
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/config"
)

// NewFromConfig builds the LLM client stack from the raw "llm" config
// section: a list of provider groups, flattened into atomic clients and
// wrapped in a Fallback when there is more than one.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (Client, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var clients []Client
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		created, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create provider clients", "type", group.Type, "error", err)
			continue
		}
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	slog.Info("✅ LLM clients initialized", "count", len(clients))

	if len(clients) == 1 {
		return clients[0], nil
	}
	return &Fallback{
		Clients:    clients,
		MaxRetries: system.MaxRetries,
		RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
	}, nil
}
