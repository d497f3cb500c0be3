package llm

import "talos/pkg/config"

// ProviderGroupConfig configures one group of models sharing a provider
// type, credentials and options.
type ProviderGroupConfig struct {
	Type       string         `json:"type"`
	APIKeys    []string       `json:"api_keys,omitempty"`
	Models     []string       `json:"models"`
	BaseURL    string         `json:"base_url,omitempty"`
	UseThought bool           `json:"use_thought,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds the atomic clients for one provider group.
type ProviderFactory interface {
	Create(group ProviderGroupConfig, system *config.SystemConfig) ([]Client, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider adds a factory under a provider type name. Called from
// the provider packages' init().
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
