package channels

import (
	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/config"
	"talos/pkg/llm"
)

// ChannelFactory creates one platform-specific channel from its raw
// config section. New platforms plug in without touching the gateway
// core.
type ChannelFactory interface {
	Create(rawConfig jsoniter.RawMessage, sessions *llm.SessionStore, system *config.SystemConfig) (api.Channel, error)
}

var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a factory under a platform name. Called from the
// channel packages' init().
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory looks up a registered factory.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}
