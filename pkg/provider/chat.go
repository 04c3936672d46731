package provider

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/tools"
)

// DefaultMaxContextMessages bounds a session history when provider_settings
// does not set max_context_messages.
const DefaultMaxContextMessages = 40

// ChatBase implements the session bookkeeping shared by chat adapters:
// model selection, system prompt, and per-session histories that are
// loaded from and saved to the history database when persistence is on.
// Adapters embed *ChatBase and implement TextChat.
type ChatBase struct {
	Base

	settings   config.ProviderSettings
	database   db.Database
	persist    bool
	maxContext int

	mu       sync.Mutex
	model    string
	tools    *tools.ToolRegistry
	sessions map[string]*llm.ChatHistory
}

func NewChatBase(entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persistHistory bool, model string) *ChatBase {
	if settings == nil {
		settings = config.ProviderSettings{}
	}
	return &ChatBase{
		Base:       NewBase(entry),
		settings:   settings,
		database:   database,
		persist:    persistHistory && database != nil,
		maxContext: settings.Int(config.SettingMaxContext, DefaultMaxContextMessages),
		model:      model,
		sessions:   make(map[string]*llm.ChatHistory),
	}
}

func (c *ChatBase) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *ChatBase) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

func (c *ChatBase) SetTools(reg *tools.ToolRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = reg
}

// Tools returns the registry the model may call into, or nil.
func (c *ChatBase) Tools() *tools.ToolRegistry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Persistent reports whether histories are written to the database.
func (c *ChatBase) Persistent() bool {
	return c.persist
}

// SystemPrompt returns the request override or the configured prompt.
func (c *ChatBase) SystemPrompt(req ChatRequest) string {
	if req.SystemPrompt != "" {
		return req.SystemPrompt
	}
	return c.settings.String(config.SettingSystemPrompt, "")
}

// History returns the session history, loading it from the database on
// first use.
func (c *ChatBase) History(ctx context.Context, sessionID string) (*llm.ChatHistory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.sessions[sessionID]; ok {
		return h, nil
	}

	h := llm.NewChatHistory(c.maxContext)
	if c.persist {
		msgs, err := c.database.LoadHistory(ctx, c.ID(), sessionID)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
		}
		h.Replace(inlineImages(c.ID(), msgs))
	}
	c.sessions[sessionID] = h
	return h, nil
}

// Commit appends one exchange to the session history and saves it.
// A failed save leaves the in-memory history updated.
func (c *ChatBase) Commit(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	h, err := c.History(ctx, sessionID)
	if err != nil {
		return err
	}
	h.Add(msgs...)

	if !c.persist {
		return nil
	}
	if err := c.database.SaveHistory(ctx, c.ID(), sessionID, h.GetMessages()); err != nil {
		return fmt.Errorf("save history for %s: %w", sessionID, err)
	}
	return nil
}

// Forget drops the session history from memory and the database.
func (c *ChatBase) Forget(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if !c.persist {
		return nil
	}
	return c.database.DeleteHistory(ctx, c.ID(), sessionID)
}

// Conversation returns the session history followed by the new user turn.
func (c *ChatBase) Conversation(ctx context.Context, req ChatRequest) ([]llm.Message, llm.Message, error) {
	h, err := c.History(ctx, req.SessionID)
	if err != nil {
		return nil, llm.Message{}, err
	}
	user := BuildUserMessage(req)
	return append(h.GetMessages(), user), user, nil
}

// Record commits the exchange, logging instead of failing when the history
// cannot be saved: the reply was already produced. Local image files are
// stored inline so the history outlives the attachment.
func (c *ChatBase) Record(ctx context.Context, req ChatRequest, user llm.Message, reply *llm.Response) {
	user = inlineImages(c.ID(), []llm.Message{user})[0]
	if err := c.Commit(ctx, req.SessionID, user, llm.NewAssistantMessage(reply.Text)); err != nil {
		slog.Warn("Failed to record chat history", "provider", c.ID(), "session", req.SessionID, "error", err)
	}
}

// inlineImages replaces file-backed image blocks with their bytes. Files that
// can no longer be read are dropped from the message.
func inlineImages(providerID string, msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, msg := range msgs {
		blocks := make([]llm.ContentBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			if block.Type == llm.BlockTypeImage && block.Source != nil && block.Source.Type == "file" {
				data, err := block.Source.Bytes()
				if err != nil {
					slog.Warn("Dropping unreadable image from history", "provider", providerID, "path", block.Source.Path, "error", err)
					continue
				}
				block = llm.NewImageBlock(data, block.Source.MediaType)
			}
			blocks = append(blocks, block)
		}
		msg.Content = blocks
		out[i] = msg
	}
	return out
}

// BuildUserMessage turns a request into a user message with its images.
func BuildUserMessage(req ChatRequest) llm.Message {
	msg := llm.NewUserMessage(req.Prompt)
	for _, img := range req.Images {
		switch {
		case strings.HasPrefix(img, "http://"), strings.HasPrefix(img, "https://"), strings.HasPrefix(img, "data:"):
			msg.AddContentBlock(llm.NewImageBlockFromURL(img, ""))
		default:
			mimeType := mime.TypeByExtension(filepath.Ext(img))
			if mimeType == "" {
				mimeType = "image/jpeg"
			}
			msg.AddContentBlock(llm.NewImageBlockFromFile(img, mimeType))
		}
	}
	return msg
}
