package api

import (
	"context"

	"botcore/pkg/provider"
)

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the Gateway core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
}

// MessageResponder defines the capabilities for sending responses back to a channel.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
}

// UnifiedMessage is the platform-neutral form of an incoming message.
type UnifiedMessage struct {
	Session SessionContext   // Contextual information about the source (User, Chat)
	Content string           // Standardized text content of the message
	Files   []FileAttachment // Images and voice notes saved by the channel
	Raw     any              // Optional storage for the original platform-specific payload object
}

// SessionContext encapsulates identity and routing information for a specific
// conversation unit on a specific communication channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "telegram")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Platform-specific identifier for the chat or group (may match UserID for DMs)
	Username  string // Display name or nickname of the user as provided by the platform
}

// Key identifies the conversation across channels; it is used as the
// provider session id.
func (s SessionContext) Key() string {
	return s.ChannelID + ":" + s.ChatID
}

// FileAttachment represents a single file or binary object uploaded by a user.
type FileAttachment struct {
	Filename string // Original name of the uploaded file
	MimeType string // MIME type descriptor (e.g., "image/jpeg", "audio/ogg")
	Path     string // Path to the saved file
}

// MessageHandler defines the function signature for processing incoming messages.
type MessageHandler func(*UnifiedMessage)

// ProviderSource is the read side of the provider lifecycle that channels
// and handlers depend on. *provider.Supervisor implements it.
type ProviderSource interface {
	Insts() []provider.ChatProvider
	CurrentProvider() provider.ChatProvider
	CurrentSTTProvider() provider.STTProvider
	STTEnabled() bool
	SetCurrentProvider(ctx context.Context, id string) error
}
