package gateway

import (
	"fmt"

	"talos/pkg/api"
	"talos/pkg/config"
	"talos/pkg/monitor"
)

// Builder assembles a Manager from pre-built components: channels,
// monitor, handler and agent engine are injected as instances, then
// wired together and started in one pass.
type Builder struct {
	gw             *Manager
	monitor        monitor.Monitor
	systemConfig   *config.SystemConfig
	handlerBuilder func(api.MessageResponder) api.MessageProcessor
	channels       []api.Channel
	agentEngine    api.AgentEngine
}

func NewBuilder() *Builder {
	return &Builder{gw: NewManager()}
}

// WithMonitor injects a monitor; it is started during Build.
func (b *Builder) WithMonitor(m monitor.Monitor) *Builder {
	b.monitor = m
	return b
}

// WithSystemConfig provides technical parameters such as internal buffer
// sizes.
func (b *Builder) WithSystemConfig(cfg *config.SystemConfig) *Builder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built channel instances.
func (b *Builder) WithChannel(channels ...api.Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithAgentEngine injects the agent engine; Build hands it the manager as
// its responder.
func (b *Builder) WithAgentEngine(engine api.AgentEngine) *Builder {
	b.agentEngine = engine
	return b
}

// WithHandler injects the message handler. Handlers implementing
// api.ResponderAware get the manager injected before first use.
func (b *Builder) WithHandler(h api.MessageProcessor) *Builder {
	b.handlerBuilder = func(responder api.MessageResponder) api.MessageProcessor {
		if setter, ok := h.(api.ResponderAware); ok {
			setter.SetResponder(responder)
		}
		return h
	}
	return b
}

// Build wires everything, starts the monitor and channels, and returns
// the running Manager.
func (b *Builder) Build() (*Manager, error) {
	if b.systemConfig != nil {
		b.gw.SetChannelBuffer(b.systemConfig.InternalChannelBuffer)
	}

	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.handlerBuilder != nil {
		if handler := b.handlerBuilder(b.gw); handler != nil {
			b.gw.SetMessageHandler(handler.OnMessage)
		}
	}

	if b.agentEngine != nil {
		b.agentEngine.SetResponder(b.gw)
	}

	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
