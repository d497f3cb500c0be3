package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"talos/pkg/api"
	"talos/pkg/llm"
	"talos/pkg/utils"
)

// Config holds the bot credentials.
type Config struct {
	Token string `json:"token"`
}

// Channel drives the agent from a Telegram bot: long-polling reception,
// media group (album) buffering, and chunked response delivery.
type Channel struct {
	config       Config
	bot          *tgbotapi.BotAPI
	messageLimit int
	mediaGroups  map[string]*mediaGroupBuffer
	httpClient   *http.Client
	mu           sync.Mutex
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

// mediaGroupBuffer aggregates messages sharing a MediaGroupID so a
// multi-image post reaches the model as one message.
type mediaGroupBuffer struct {
	session  api.SessionContext
	content  string
	photoIDs []string
	timer    *time.Timer
}

// defaultMessageLimit stays under Telegram's 4096-character cap.
const defaultMessageLimit = 4000

func NewChannel(cfg Config, msgLimit int, downloadTimeoutMs int) (*Channel, error) {
	if msgLimit <= 0 {
		msgLimit = defaultMessageLimit
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Dedicated HTTP client whose dials are tied to stopCtx, so an active
	// long-poll aborts immediately on Stop. Otherwise a restarted bot
	// races the stuck request and Telegram answers 409 Conflict.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Channel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		httpClient: &http.Client{
			Timeout: time.Duration(downloadTimeoutMs) * time.Millisecond,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

func (t *Channel) ID() string { return "telegram" }

// Start launches the long-polling loop. GetUpdates is used directly
// instead of GetUpdatesChan so the offset stays under our control and the
// loop can exit on stopCtx.
func (t *Channel) Start(ctx api.ChannelContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil {
					continue
				}

				session := api.SessionContext{
					ChannelID: "telegram",
					UserID:    strconv.FormatInt(update.Message.From.ID, 10),
					ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
					Username:  update.Message.From.UserName,
				}

				// Largest rendition only; download deferred so album
				// grouping is not blocked.
				var photoID string
				if len(update.Message.Photo) > 0 {
					photoID = update.Message.Photo[len(update.Message.Photo)-1].FileID
				}

				content := update.Message.Text
				if content == "" {
					content = update.Message.Caption
				}

				if update.Message.MediaGroupID != "" {
					t.handleMediaGroup(ctx, update.Message.MediaGroupID, session, content, photoID)
					continue
				}

				if photoID != "" {
					go func(s api.SessionContext, text, pID string) {
						var files []api.FileAttachment
						if file, err := t.downloadPhoto(pID); err == nil {
							files = append(files, *file)
						} else {
							slog.Error("Photo download failed", "error", err)
						}
						ctx.OnMessage(t.ID(), &api.UnifiedMessage{
							Session: s,
							Content: text,
							Files:   files,
						})
					}(session, content, photoID)
				} else {
					ctx.OnMessage(t.ID(), &api.UnifiedMessage{
						Session: session,
						Content: content,
					})
				}
			}
		}
	}()

	return nil
}

func (t *Channel) Stop() error {
	t.stopCancel()

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}

// SendSignal implements api.SignalingChannel; "thinking" maps to the
// typing chat action.
func (t *Channel) SendSignal(session api.SessionContext, signal string) error {
	if signal == llm.BlockTypeThinking {
		chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
		if err != nil {
			return err
		}
		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		_, err = t.bot.Send(action)
		return err
	}
	return nil
}

// downloadPhoto streams a Telegram file to data/attachments, skipping the
// download when the FileID is already cached on disk.
func (t *Channel) downloadPhoto(fileID string) (*api.FileAttachment, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get photo file info: %w", err)
	}

	attachmentsDir := filepath.Join("data", "attachments")
	if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	basePattern := filepath.Join(attachmentsDir, "tg_"+fileID)
	if matches, _ := filepath.Glob(basePattern + "*"); len(matches) > 0 {
		localPath := matches[0]
		mimeType, _ := utils.DetectFileMimeAndExt(localPath)
		return &api.FileAttachment{
			Filename: fileInfo.FilePath,
			MimeType: mimeType,
			Path:     localPath,
		}, nil
	}

	resp, err := t.httpClient.Get(fileInfo.Link(t.config.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status code %d", resp.StatusCode)
	}

	ext := filepath.Ext(fileInfo.FilePath)
	localPath := basePattern + ext

	outFile, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to save photo data to disk: %w", err)
	}

	mimeType, detectedExt := utils.DetectFileMimeAndExt(localPath)
	if ext == "" {
		newPath := basePattern + detectedExt
		if err := os.Rename(localPath, newPath); err == nil {
			localPath = newPath
		}
	}

	return &api.FileAttachment{
		Filename: fileInfo.FilePath,
		MimeType: mimeType,
		Path:     localPath,
	}, nil
}

func (t *Channel) handleMediaGroup(ctx api.ChannelContext, groupID string, session api.SessionContext, text, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if ok {
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}
		buf.timer.Reset(time.Second)
		return
	}

	buf = &mediaGroupBuffer{
		session:  session,
		content:  text,
		photoIDs: []string{},
	}
	if photoID != "" {
		buf.photoIDs = append(buf.photoIDs, photoID)
	}
	t.mediaGroups[groupID] = buf

	// Flush one second after the last item of the album arrives.
	buf.timer = time.AfterFunc(time.Second, func() {
		t.mu.Lock()
		finalBuf, exists := t.mediaGroups[groupID]
		if !exists {
			t.mu.Unlock()
			return
		}
		delete(t.mediaGroups, groupID)
		t.mu.Unlock()

		var wg sync.WaitGroup
		files := make([]api.FileAttachment, len(finalBuf.photoIDs))

		for i, pid := range finalBuf.photoIDs {
			wg.Add(1)
			go func(index int, id string) {
				defer wg.Done()
				if file, err := t.downloadPhoto(id); err == nil {
					files[index] = *file
				} else {
					slog.Error("MediaGroup download failed", "file_id", id, "error", err)
				}
			}(i, pid)
		}
		wg.Wait()

		var downloaded []api.FileAttachment
		for _, f := range files {
			if f.Path != "" {
				downloaded = append(downloaded, f)
			}
		}

		ctx.OnMessage(t.ID(), &api.UnifiedMessage{
			Session: finalBuf.session,
			Content: finalBuf.content,
			Files:   downloaded,
		})
		slog.Info("MediaGroup sent", "group", groupID,
			"images", fmt.Sprintf("%d/%d", len(downloaded), len(finalBuf.photoIDs)))
	})
}

func (t *Channel) Send(session api.SessionContext, message string) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for _, part := range splitMessage(message, t.messageLimit) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
	}
	return nil
}

// splitMessage chunks a reply at rune boundaries. A non-positive limit
// falls back to the default so the loop always advances.
func splitMessage(message string, limit int) []string {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	runes := []rune(message)
	if len(runes) <= limit {
		return []string{message}
	}

	parts := make([]string, 0, (len(runes)+limit-1)/limit)
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

func (t *Channel) sendPhoto(session api.SessionContext, block llm.ContentBlock) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	if block.Source == nil {
		return fmt.Errorf("image source is nil")
	}

	var photo tgbotapi.Chattable
	switch {
	case block.Source.Type == "base64" && len(block.Source.Data) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "screenshot.png",
			Bytes: block.Source.Data,
		})
	case block.Source.Type == "url":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(block.Source.URL))
	case block.Source.Type == "file" && block.Source.Path != "":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(block.Source.Path))
	default:
		return fmt.Errorf("unsupported image source type: %s", block.Source.Type)
	}

	_, err = t.bot.Send(photo)
	return err
}

// Stream adapts streaming output to a platform without message edits:
// thinking is bundled into one bubble, text accumulates until the stream
// ends or an image interrupts, images go out immediately.
func (t *Channel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var thinkingBuf strings.Builder
	var textBuf strings.Builder
	var thinkingSent bool

	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeThinking:
			thinkingBuf.WriteString(block.Text)
		case llm.BlockTypeText, llm.BlockTypeError:
			if thinkingBuf.Len() > 0 && !thinkingSent {
				if err := t.Send(session, "💭 Reasoning process:\n\n"+thinkingBuf.String()); err != nil {
					slog.Error("Failed to send thinking", "error", err)
				}
				thinkingSent = true
			}
			textBuf.WriteString(block.Text)
		case llm.BlockTypeImage:
			// Flush pending text first so ordering holds.
			if textBuf.Len() > 0 {
				if err := t.Send(session, "🤖 Assistant response:\n\n"+textBuf.String()); err != nil {
					slog.Error("Failed to send text before image", "error", err)
				}
				textBuf.Reset()
			}
			if err := t.sendPhoto(session, block); err != nil {
				slog.Error("Failed to send photo", "error", err)
			}
		}
	}

	if thinkingBuf.Len() > 0 && !thinkingSent {
		if err := t.Send(session, "💭 Reasoning process:\n\n"+thinkingBuf.String()); err != nil {
			slog.Error("Failed to send thinking", "error", err)
		}
	}

	if textBuf.Len() > 0 {
		return t.Send(session, "🤖 Assistant response:\n\n"+textBuf.String())
	}
	return nil
}
