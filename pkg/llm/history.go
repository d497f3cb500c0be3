package llm

import (
	"encoding/base64"
	"os"
	"sync"
)

// History is the ordered message log of one conversation.
type History struct {
	messages []Message
	mu       sync.RWMutex
}

func NewHistory() *History {
	return &History{messages: make([]Message, 0)}
}

// Add appends a message.
func (h *History) Add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// GetMessages returns a copy of the current history.
func (h *History) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// EnsureSystemMessage guarantees the history starts with the given system
// prompt, inserting or updating the leading system message as needed.
func (h *History) EnsureSystemMessage(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		h.messages[0] = NewSystemMessage(prompt)
		return
	}
	h.messages = append([]Message{NewSystemMessage(prompt)}, h.messages...)
}

// MessagesForUI renders the history as display entries: user and
// assistant turns only, text flattened and inline images re-encoded.
func (h *History) MessagesForUI() []map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []map[string]any
	for _, m := range h.messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}

		entry := map[string]any{"role": m.Role}
		var text string
		var images []map[string]string
		for _, b := range m.Content {
			switch b.Type {
			case BlockTypeText:
				text += b.Text
			case BlockTypeImage:
				if b.Source == nil {
					continue
				}
				img := map[string]string{"mime": b.Source.MediaType}
				switch {
				case len(b.Source.Data) > 0:
					img["data"] = base64.StdEncoding.EncodeToString(b.Source.Data)
				case b.Source.Path != "":
					img["path"] = b.Source.Path
				case b.Source.URL != "":
					img["url"] = b.Source.URL
				}
				images = append(images, img)
			}
		}

		if text == "" && len(images) == 0 {
			continue
		}
		entry["text"] = text
		if len(images) > 0 {
			entry["images"] = images
		}
		out = append(out, entry)
	}
	return out
}

// Save writes the history to path as JSON.
func (h *History) Save(path string) error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h.messages, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load replaces the history with the contents of path. A missing file
// leaves the history empty and is not an error.
func (h *History) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}

	h.mu.Lock()
	h.messages = msgs
	h.mu.Unlock()
	return nil
}
