// Package db persists per-session conversation histories for chat providers.
package db

import (
	"context"
	"errors"

	"botcore/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("db: database is closed")

// Database is the conversation-history backend handed to chat providers.
// Histories are keyed by provider id and session id so switching providers
// does not mix conversations.
type Database interface {
	// LoadHistory returns the stored messages, or nil when none exist.
	LoadHistory(ctx context.Context, providerID, sessionID string) ([]llm.Message, error)
	// SaveHistory replaces the stored messages.
	SaveHistory(ctx context.Context, providerID, sessionID string, messages []llm.Message) error
	// DeleteHistory removes the stored messages. Deleting a missing history is not an error.
	DeleteHistory(ctx context.Context, providerID, sessionID string) error
	Close() error
}
