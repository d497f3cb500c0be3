package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/channels"
	"talos/pkg/config"
	"talos/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Factory struct{}

func (f *Factory) Create(rawConfig jsoniter.RawMessage, sessions *llm.SessionStore, system *config.SystemConfig) (api.Channel, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}
	return NewChannel(cfg, system.TelegramMessageLimit, system.DownloadTimeoutMs)
}

func init() {
	channels.RegisterChannel("telegram", &Factory{})
}
