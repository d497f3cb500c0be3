package api

import "talos/pkg/llm"

// Channel is the lifecycle interface for a user-facing communication
// surface (web UI, Telegram, ...).
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
	Stream(session SessionContext, blocks <-chan llm.ContentBlock) error
}

// SignalingChannel extends Channel for platforms that can surface control
// signals such as "thinking" indicators or role switches.
type SignalingChannel interface {
	Channel
	SendSignal(session SessionContext, signal string) error
}

// ChannelContext lets a channel implementation talk back to the gateway
// core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
}

// MessageResponder is everything a component needs to push content back to
// the user, wherever they are.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
	StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error
	SendSignal(session SessionContext, signal string) error
}

// UnifiedMessage is the channel-agnostic form of every inbound message.
type UnifiedMessage struct {
	Session    SessionContext
	Content    string
	Files      []FileAttachment
	RetryCount int    // automatic recovery attempts consumed so far
	NoTools    bool   // suppress tool calling for this request
	TraceID    string // groups the agent-loop logs for this request
}

// SessionContext identifies one conversation on one channel.
type SessionContext struct {
	ChannelID string
	UserID    string
	ChatID    string
	Username  string
}

// FileAttachment is a user-uploaded binary, held inline or on disk.
type FileAttachment struct {
	Filename string
	MimeType string
	Data     []byte // nil when Path is set
	Path     string
}

// MessageProcessor consumes inbound unified messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// ResponderAware marks components that need a MessageResponder injected
// before they can run.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}
