// Package provider owns the adapter registry and the lifecycle of the
// configured chat-completion and speech-to-text provider instances.
package provider

import (
	"context"
	"fmt"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/tools"
)

// Category is the task an adapter serves.
type Category int

const (
	ChatCompletion Category = iota + 1
	SpeechToText
)

func (c Category) String() string {
	switch c {
	case ChatCompletion:
		return "chat_completion"
	case SpeechToText:
		return "speech_to_text"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Provider is the capability every live instance has.
type Provider interface {
	// ID is the configured, unique instance id.
	ID() string
	// Type is the adapter type identifier the instance was built from.
	Type() string
	// Terminate releases resources held by the instance. Instances with
	// nothing to release embed Base and inherit its no-op.
	Terminate(ctx context.Context) error
}

// ChatRequest is one user turn sent to a chat provider.
type ChatRequest struct {
	SessionID string
	Prompt    string
	// Images are http(s) or data: URLs, or local file paths.
	Images []string
	// SystemPrompt overrides the provider_settings system prompt when set.
	SystemPrompt string
}

// ChatProvider generates text.
type ChatProvider interface {
	Provider
	Model() string
	SetModel(model string)
	// TextChat sends the prompt along with the session history and records
	// the exchange in that history.
	TextChat(ctx context.Context, req ChatRequest) (*llm.Response, error)
	// Forget drops the session history.
	Forget(ctx context.Context, sessionID string) error
}

// ToolUser is implemented by chat providers that can let the model call
// tools. The manager hands every such instance its tool registry.
type ToolUser interface {
	SetTools(reg *tools.ToolRegistry)
}

// STTProvider turns speech into text.
type STTProvider interface {
	Provider
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// ChatConstructor builds a chat provider. database is the history backend
// and persistHistory tells whether the instance should write to it.
type ChatConstructor func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persistHistory bool) (ChatProvider, error)

// STTConstructor builds a speech-to-text provider.
type STTConstructor func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings) (STTProvider, error)

// Base carries the identity of an instance and a no-op Terminate.
type Base struct {
	id  string
	typ string
}

func NewBase(entry config.ProviderEntry) Base {
	return Base{id: entry.ID, typ: entry.Type}
}

func (b Base) ID() string   { return b.id }
func (b Base) Type() string { return b.typ }

func (b Base) Terminate(context.Context) error { return nil }
