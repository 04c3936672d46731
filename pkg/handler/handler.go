package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botcore/pkg/api"
	"botcore/pkg/config"
	"botcore/pkg/provider"
)

const helpText = `Commands:
/provider            list chat providers
/provider <id>       switch the chat provider
/model [name]        show or set the model of the current provider
/reset               forget this conversation`

// ChatHandler routes channel messages to the current providers. Voice
// attachments are transcribed first, images are passed along with the prompt,
// and slash commands manage provider selection.
type ChatHandler struct {
	providers api.ProviderSource
	responder api.MessageResponder
	timeout   time.Duration
	log       *slog.Logger
}

func NewChatHandler(providers api.ProviderSource, responder api.MessageResponder, sys *config.SystemConfig) *ChatHandler {
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}
	return &ChatHandler{
		providers: providers,
		responder: responder,
		timeout:   time.Duration(sys.ChatTimeoutMs) * time.Millisecond,
		log:       slog.Default().With("component", "handler"),
	}
}

// OnMessage handles msg in the background so a slow provider never blocks
// the channel's receive loop. It satisfies api.MessageHandler.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	go func() {
		if err := h.Process(context.Background(), msg); err != nil {
			h.log.Error("Failed to deliver reply", "channel", msg.Session.ChannelID, "chat", msg.Session.ChatID, "error", err)
		}
	}()
}

// Process answers msg synchronously. The returned error is a delivery
// failure; provider failures are reported to the user instead.
func (h *ChatHandler) Process(ctx context.Context, msg *api.UnifiedMessage) error {
	start := time.Now()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	text := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(text, "/") {
		return h.reply(msg, h.handleCommand(ctx, msg.Session, text))
	}

	prompt, images, notice := h.collectInput(ctx, text, msg.Files)
	if notice != "" {
		if err := h.reply(msg, notice); err != nil {
			return err
		}
	}
	if prompt == "" && len(images) == 0 {
		return nil
	}

	p := h.providers.CurrentProvider()
	if p == nil {
		return h.reply(msg, "No chat provider is available.")
	}

	resp, err := p.TextChat(ctx, provider.ChatRequest{
		SessionID: msg.Session.Key(),
		Prompt:    prompt,
		Images:    images,
	})
	if err != nil {
		h.log.Error("Chat failed", "provider", p.ID(), "error", err)
		return h.reply(msg, fmt.Sprintf("❌ Error: %v", err))
	}

	h.log.Info("Chat finished", "provider", p.ID(), "model", resp.Model, "duration", time.Since(start))
	return h.reply(msg, resp.Text)
}

// collectInput merges transcribed voice notes into the prompt and gathers
// image paths. notice is a message for the user about skipped input.
func (h *ChatHandler) collectInput(ctx context.Context, text string, files []api.FileAttachment) (string, []string, string) {
	var (
		parts  []string
		images []string
		notice string
	)
	if text != "" {
		parts = append(parts, text)
	}

	for _, f := range files {
		switch {
		case strings.HasPrefix(f.MimeType, "image/"):
			images = append(images, f.Path)
		case strings.HasPrefix(f.MimeType, "audio/"):
			stt := h.providers.CurrentSTTProvider()
			if !h.providers.STTEnabled() || stt == nil {
				notice = "Speech-to-text is not available, voice messages are ignored."
				continue
			}
			transcript, err := stt.Transcribe(ctx, f.Path)
			if err != nil {
				h.log.Error("Transcription failed", "provider", stt.ID(), "file", f.Filename, "error", err)
				notice = fmt.Sprintf("❌ Transcription failed: %v", err)
				continue
			}
			h.log.Debug("Transcribed voice message", "provider", stt.ID(), "chars", len(transcript))
			parts = append(parts, transcript)
		default:
			h.log.Warn("Ignoring attachment", "name", f.Filename, "mime", f.MimeType)
		}
	}
	return strings.Join(parts, "\n"), images, notice
}

func (h *ChatHandler) handleCommand(ctx context.Context, session api.SessionContext, text string) string {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return helpText
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "provider":
		if len(args) == 0 {
			return h.listProviders()
		}
		return h.switchProvider(ctx, args[0])
	case "model":
		p := h.providers.CurrentProvider()
		if p == nil {
			return "No chat provider is available."
		}
		if len(args) == 0 {
			return fmt.Sprintf("%s is using model %s", p.ID(), p.Model())
		}
		p.SetModel(args[0])
		return fmt.Sprintf("%s now uses model %s", p.ID(), args[0])
	case "reset":
		p := h.providers.CurrentProvider()
		if p == nil {
			return "No chat provider is available."
		}
		if err := p.Forget(ctx, session.Key()); err != nil {
			return fmt.Sprintf("❌ Failed to reset: %v", err)
		}
		return "Conversation cleared."
	case "help":
		return helpText
	default:
		return "Unknown command.\n" + helpText
	}
}

func (h *ChatHandler) listProviders() string {
	insts := h.providers.Insts()
	if len(insts) == 0 {
		return "No chat provider is available."
	}
	var current string
	if p := h.providers.CurrentProvider(); p != nil {
		current = p.ID()
	}

	var sb strings.Builder
	sb.WriteString("Chat providers:")
	for _, p := range insts {
		marker := " "
		if p.ID() == current {
			marker = "*"
		}
		fmt.Fprintf(&sb, "\n%s %s (%s, %s)", marker, p.ID(), p.Type(), p.Model())
	}
	if stt := h.providers.CurrentSTTProvider(); stt != nil && h.providers.STTEnabled() {
		fmt.Fprintf(&sb, "\nSpeech-to-text: %s", stt.ID())
	}
	return sb.String()
}

func (h *ChatHandler) switchProvider(ctx context.Context, id string) string {
	err := h.providers.SetCurrentProvider(ctx, id)
	switch {
	case err == nil:
		return "Switched to " + id
	case errors.Is(err, provider.ErrProviderNotFound):
		return "Unknown provider: " + id
	default:
		h.log.Error("Failed to switch provider", "provider", id, "error", err)
		return fmt.Sprintf("❌ Failed to switch provider: %v", err)
	}
}

func (h *ChatHandler) reply(msg *api.UnifiedMessage, content string) error {
	return h.responder.SendReply(msg.Session, content)
}
