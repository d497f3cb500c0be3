package ollama

import (
	"log/slog"

	"talos/pkg/config"
	"talos/pkg/llm"
)

// Factory builds one Client per configured model.
type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range group.Models {
		client, err := NewClient(model, group.BaseURL, group.Options)
		if err != nil {
			slog.Warn("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &Factory{})
}
