package monitor

import "time"

// Message is one monitored event flowing through the gateway.
type Message struct {
	Timestamp   time.Time
	MessageType string // "USER" or "ASSISTANT"
	ChannelID   string
	Username    string
	Content     string
}

// Monitor mirrors gateway traffic somewhere an operator can watch it.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg Message)
}
