package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"talos/pkg/api"
	"talos/pkg/llm"
	"talos/pkg/monitor"
)

// MessageHandler consumes a normalized inbound message.
type MessageHandler func(msg *api.UnifiedMessage)

// Manager owns the registered channels and routes traffic both ways:
// inbound messages to the handler, replies back to the right channel.
// It implements api.ChannelContext.
type Manager struct {
	channels      map[string]api.Channel
	msgHandler    MessageHandler
	monitor       monitor.Monitor
	channelBuffer int
	mu            sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		channels:      make(map[string]api.Channel),
		channelBuffer: 100,
	}
}

// SetChannelBuffer sets the buffer size used for internal block channels.
func (g *Manager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// SetMessageHandler sets the core inbound message logic.
func (g *Manager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

func (g *Manager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a channel under its own ID.
func (g *Manager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

func (g *Manager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered channel, passing the manager as their
// context.
func (g *Manager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

func (g *Manager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply routes a plain text reply back through the session's channel.
func (g *Manager) SendReply(session api.SessionContext, content string) error {
	slog.Debug("Reply", "channel", session.ChannelID, "user", session.Username, "content", content)

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.Message{
			Timestamp:   time.Now(),
			MessageType: "ASSISTANT",
			ChannelID:   session.ChannelID,
			Username:    session.Username,
			Content:     content,
		})
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal forwards a control signal (e.g. "thinking") to channels that
// support it; others ignore it silently.
func (g *Manager) SendSignal(session api.SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	if sc, ok := c.(api.SignalingChannel); ok {
		slog.Debug("Signal", "channel", session.ChannelID, "signal", signal)
		return sc.SendSignal(session, signal)
	}
	return nil
}

// StreamReply routes a block stream to the session's channel, teeing the
// text content into the monitor once the stream ends.
func (g *Manager) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	wrapped := make(chan llm.ContentBlock, g.channelBuffer)
	var fullContent string

	go func() {
		defer close(wrapped)
		for block := range blocks {
			if block.Type == llm.BlockTypeText {
				fullContent += block.Text
			}
			wrapped <- block
		}
		if fullContent != "" && g.monitor != nil {
			g.monitor.OnMessage(monitor.Message{
				Timestamp:   time.Now(),
				MessageType: "ASSISTANT",
				ChannelID:   session.ChannelID,
				Username:    session.Username,
				Content:     fullContent,
			})
		}
	}()

	return c.Stream(session, wrapped)
}

// OnMessage receives an inbound message from a channel and hands it to
// the configured handler.
func (g *Manager) OnMessage(channelID string, msg *api.UnifiedMessage) {
	slog.Info("Received message",
		"channel", channelID,
		"user", msg.Session.Username,
		"user_id", msg.Session.UserID,
		"content", msg.Content,
	)

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.Message{
			Timestamp:   time.Now(),
			MessageType: "USER",
			ChannelID:   channelID,
			Username:    msg.Session.Username,
			Content:     msg.Content,
		})
	}

	if g.msgHandler != nil {
		g.msgHandler(msg)
	} else {
		slog.Warn("No message handler set, dropping message", "channel", channelID)
	}
}
