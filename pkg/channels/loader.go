package channels

import (
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/config"
	"talos/pkg/llm"
)

// CreateFromConfig resolves every configured channel through the factory
// registry and returns the instances, ready to hand to the gateway
// builder. Misconfigured channels are logged and skipped so one bad
// section never takes the bridge down.
func CreateFromConfig(configs map[string]jsoniter.RawMessage, sessions *llm.SessionStore, system *config.SystemConfig) []api.Channel {
	var out []api.Channel
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, sessions, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("Channel created", "name", name)
	}
	return out
}
