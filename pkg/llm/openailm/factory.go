package openailm

import (
	"log/slog"

	"talos/pkg/config"
	"talos/pkg/llm"
)

// Factory builds one Client per configured model, all sharing the group's
// first API key and base URL.
type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	apiKey := ""
	if len(group.APIKeys) > 0 {
		apiKey = group.APIKeys[0]
	}

	var clients []llm.Client
	for _, model := range group.Models {
		client, err := NewClient("openai", apiKey, model, group.BaseURL, group.Options)
		if err != nil {
			slog.Error("Failed to create OpenAI client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
}
