package web

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"talos/pkg/api"
	"talos/pkg/llm"
	"talos/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The UI is served separately during development.
		return true
	},
}

type Config struct {
	Port int `json:"port"`
}

type incomingMessage struct {
	Text   string `json:"text"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // base64
	} `json:"images"`
}

// safeConn serializes websocket writes; gorilla connections allow only
// one concurrent writer.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// Channel exposes the agent over a websocket endpoint for the local
// control panel.
type Channel struct {
	config      Config
	server      *http.Server
	sessions    *llm.SessionStore
	connections map[string]*safeConn
	mu          sync.RWMutex
}

func NewChannel(cfg Config, sessions *llm.SessionStore) *Channel {
	return &Channel{
		config:      cfg,
		sessions:    sessions,
		connections: make(map[string]*safeConn),
	}
}

func (c *Channel) ID() string { return "web" }

func (c *Channel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()
	return nil
}

func (c *Channel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *Channel) conn(userID string) (*safeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("web user %s not connected", userID)
	}
	return conn, nil
}

func (c *Channel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session.UserID)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// SendSignal implements api.SignalingChannel.
func (c *Channel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session.UserID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(map[string]string{"type": "signal", "value": signal})
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Stream forwards blocks to the browser as typed JSON frames and closes
// with a done frame.
func (c *Channel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, err := c.conn(session.UserID)
	if err != nil {
		return err
	}

	for block := range blocks {
		msg := map[string]any{"type": block.Type}

		if block.Type == llm.BlockTypeImage && block.Source != nil {
			switch {
			case block.Source.Type == "base64" && len(block.Source.Data) > 0:
				msg["data"] = base64.StdEncoding.EncodeToString(block.Source.Data)
				msg["mime"] = block.Source.MediaType
			case block.Source.Type == "file" && block.Source.Path != "":
				fileData, err := os.ReadFile(block.Source.Path)
				if err != nil {
					slog.Error("Failed to read local image for stream", "path", block.Source.Path, "error", err)
					continue
				}
				msg["data"] = base64.StdEncoding.EncodeToString(fileData)
				msg["mime"] = block.Source.MediaType
			case block.Source.Type == "url":
				msg["url"] = block.Source.URL
			}
		} else {
			msg["text"] = block.Text
		}

		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to marshal stream block", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}

	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

func (c *Channel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS upgrade failed", "error", err)
		return
	}

	conn := &safeConn{Conn: rawConn}
	userID := r.RemoteAddr

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	// Replay prior conversation so a reconnecting panel catches up. The
	// web UI shares one global session.
	if h, err := c.sessions.GetHistory("web_global"); err == nil {
		if historyMsgs := h.MessagesForUI(); len(historyMsgs) > 0 {
			payload, err := json.Marshal(map[string]any{
				"type": "history",
				"data": historyMsgs,
			})
			if err != nil {
				slog.Error("Failed to marshal history", "error", err)
			} else {
				conn.WriteMessage(websocket.TextMessage, payload)
			}
		}
	}

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    "global",
		Username:  "WebUser",
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var content string
		var files []api.FileAttachment

		var incoming incomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil {
			content = incoming.Text
			for _, img := range incoming.Images {
				file, err := c.saveAttachment(img.Name, img.Mime, img.Data)
				if err != nil {
					slog.Error("Failed to store attachment", "name", img.Name, "error", err)
					continue
				}
				files = append(files, file)
			}
		} else {
			// Plain text frame.
			content = string(msgBytes)
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Files:   files,
		})
	}
}

// saveAttachment decodes an uploaded image and spools it to disk, keyed
// by content hash so repeats cost no extra IO.
func (c *Channel) saveAttachment(name, mime, b64 string) (api.FileAttachment, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return api.FileAttachment{}, fmt.Errorf("bad base64 payload: %w", err)
	}

	attachmentsDir := filepath.Join("data", "attachments")
	if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
		return api.FileAttachment{}, err
	}

	hash := sha256.Sum256(data)
	_, ext := utils.DetectMimeAndExt(data)
	localPath := filepath.Join(attachmentsDir,
		utils.GenerateTimestampPrefix()+hex.EncodeToString(hash[:])+ext)

	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		if err := os.WriteFile(localPath, data, 0644); err != nil {
			return api.FileAttachment{}, err
		}
	}

	slog.Debug("Saved attachment", "name", name, "path", localPath)
	return api.FileAttachment{
		Filename: name,
		MimeType: mime,
		Path:     localPath,
	}, nil
}
