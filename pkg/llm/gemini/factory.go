package gemini

import (
	"log/slog"

	"talos/pkg/config"
	"talos/pkg/llm"
)

// Factory builds the cartesian product of models and API keys so key
// rotation happens naturally through the fallback chain.
type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	useThought := group.UseThought
	if effort, ok := group.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	var clients []llm.Client
	for _, model := range group.Models {
		for _, key := range group.APIKeys {
			client, err := NewClient(key, model, useThought)
			if err != nil {
				slog.Error("Failed to create Gemini client", "model", model, "error", err)
				continue
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &Factory{})
}
