package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/channels"
	"talos/pkg/config"
	"talos/pkg/llm"
)

type Factory struct{}

func (f *Factory) Create(rawConfig jsoniter.RawMessage, sessions *llm.SessionStore, system *config.SystemConfig) (api.Channel, error) {
	cfg := Config{Port: 9453}
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}
	return NewChannel(cfg, sessions), nil
}

func init() {
	channels.RegisterChannel("web", &Factory{})
}
