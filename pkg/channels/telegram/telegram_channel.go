package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"botcore/pkg/api"
	"botcore/pkg/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
	// APIEndpoint and FileEndpoint point at a self-hosted Bot API server.
	// Both are format strings taking the token and the method or file path.
	APIEndpoint  string `json:"api_endpoint"`
	FileEndpoint string `json:"file_endpoint"`
}

// TelegramChannel is the production implementation of api.Channel for
// the Telegram platform. It handles text, photos, albums and voice notes.
type TelegramChannel struct {
	config         TelegramConfig               // Auth credentials
	bot            *tgbotapi.BotAPI             // Underlying Telegram SDK client
	messageLimit   int                          // Maximum character count per single message bubble
	attachmentsDir string                       // Where downloaded media is stored
	mediaGroups    map[string]*mediaGroupBuffer // Buffer for grouping multiple images sent together
	groupDelay     time.Duration                // How long an album stays open for more photos
	httpClient     *http.Client                 // Client for downloading remote media from Telegram
	mu             sync.Mutex                   // Protects concurrent access to internal buffers
	stopCtx        context.Context              // Context used to forcibly abort the long-polling HTTP request
	stopCancel     context.CancelFunc           // Function to trigger the abort
}

// mediaGroupBuffer aggregates multiple incoming messages marked with the
// same MediaGroupID into a single UnifiedMessage.
type mediaGroupBuffer struct {
	session api.SessionContext // Target session metadata
	content string             // Aggregated caption text
	fileIDs []string           // Collection of file identifiers
	timer   *time.Timer        // Debounce timer for finishing the group
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, timeoutMs int, attachmentsDir string) (*TelegramChannel, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}

	ctx, cancel := context.WithCancel(context.Background())

	// A dedicated HTTP client whose dials are tied to stopCtx, so the active
	// long poll is aborted on Stop and a restarted bot does not hit 409 Conflict.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHttpClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
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

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, botHttpClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	if msgLimit <= 0 {
		msgLimit = 4000
	}
	return &TelegramChannel{
		config:         cfg,
		bot:            bot,
		messageLimit:   msgLimit,
		attachmentsDir: attachmentsDir,
		mediaGroups:    make(map[string]*mediaGroupBuffer),
		groupDelay:     time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	go t.poll(ctx)
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return // Gracefully exit on shutdown
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		// GetUpdates has no context; Stop aborts it through the dialer.
		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-t.stopCtx.Done():
				return // Ignore error if we are shutting down
			case <-time.After(3 * time.Second):
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage maps one Telegram message into a UnifiedMessage. Media is
// downloaded off the update loop.
func (t *TelegramChannel) handleMessage(ctx api.ChannelContext, m *tgbotapi.Message) {
	session := api.SessionContext{
		ChannelID: t.ID(),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		session.UserID = strconv.FormatInt(m.From.ID, 10)
		session.Username = m.From.UserName
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	var fileID string
	switch {
	case len(m.Photo) > 0:
		fileID = m.Photo[len(m.Photo)-1].FileID
	case m.Voice != nil:
		fileID = m.Voice.FileID
	case m.Audio != nil:
		fileID = m.Audio.FileID
	}

	// Handle MediaGroup (album/collection)
	if m.MediaGroupID != "" {
		t.handleMediaGroup(ctx, m.MediaGroupID, session, content, fileID)
		return
	}

	if fileID == "" {
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, Content: content, Raw: m})
		return
	}

	go func() {
		var files []api.FileAttachment
		if file, err := t.downloadFile(fileID); err == nil {
			files = append(files, *file)
		} else {
			slog.Error("Telegram download failed", "file_id", fileID, "error", err)
		}
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, Content: content, Files: files, Raw: m})
	}()
}

// downloadFile resolves a file id and streams its content to disk.
func (t *TelegramChannel) downloadFile(fileID string) (*api.FileAttachment, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	fileURL := fmt.Sprintf(t.config.FileEndpoint, t.config.Token, fileInfo.FilePath)
	resp, err := t.httpClient.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status code %d", resp.StatusCode)
	}

	saved, err := utils.SaveAttachment(t.attachmentsDir, "tg_"+path.Base(fileInfo.FilePath), resp.Body)
	if err != nil {
		return nil, err
	}
	return &api.FileAttachment{
		Filename: fileInfo.FilePath,
		MimeType: saved.MimeType,
		Path:     saved.Path,
	}, nil
}

func (t *TelegramChannel) handleMediaGroup(ctx api.ChannelContext, groupID string, session api.SessionContext, text string, fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if ok {
		// Accumulate content and photos
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		if fileID != "" {
			buf.fileIDs = append(buf.fileIDs, fileID)
		}
		buf.timer.Reset(t.groupDelay)
		return
	}

	buf = &mediaGroupBuffer{session: session, content: text}
	if fileID != "" {
		buf.fileIDs = append(buf.fileIDs, fileID)
	}
	t.mediaGroups[groupID] = buf
	buf.timer = time.AfterFunc(t.groupDelay, func() { t.flushMediaGroup(ctx, groupID) })
}

func (t *TelegramChannel) flushMediaGroup(ctx api.ChannelContext, groupID string) {
	t.mu.Lock()
	buf, exists := t.mediaGroups[groupID]
	delete(t.mediaGroups, groupID)
	t.mu.Unlock()
	if !exists {
		return
	}

	// Download all files in parallel
	var wg sync.WaitGroup
	files := make([]*api.FileAttachment, len(buf.fileIDs))
	for i, id := range buf.fileIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file, err := t.downloadFile(id)
			if err != nil {
				slog.Error("MediaGroup download failed", "file_id", id, "error", err)
				return
			}
			files[i] = file
		}()
	}
	wg.Wait()

	var successful []api.FileAttachment
	for _, f := range files {
		if f != nil {
			successful = append(successful, *f)
		}
	}

	ctx.OnMessage(t.ID(), &api.UnifiedMessage{
		Session: buf.session,
		Content: buf.content,
		Files:   successful,
	})
	slog.Info("MediaGroup sent", "group", groupID, "files", fmt.Sprintf("%d/%d", len(successful), len(buf.fileIDs)), "content_len", len(buf.content))
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	t.mu.Lock()
	for id, buf := range t.mediaGroups {
		buf.timer.Stop()
		delete(t.mediaGroups, id)
	}
	t.mu.Unlock()

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		httpClient.CloseIdleConnections()
	}
	return nil
}

// Send delivers message, split into bubbles of at most messageLimit runes.
func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range utils.SplitRunes(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}
