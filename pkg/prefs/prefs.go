// Package prefs holds small persisted key-value state, such as the id of
// the chat provider the operator last selected.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"botcore/pkg/config"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KeyCurrentProvider stores the id of the current chat-completion provider.
const KeyCurrentProvider = "curr_provider"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("prefs: store is closed")

// Store is a string key-value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the store selected by cfg. Relative file paths are resolved
// against dataDir.
func Open(cfg config.PreferencesConfig, dataDir string) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = "shared_preferences.json"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		return NewFile(path)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("prefs: redis driver requires 'redis_url'")
		}
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("prefs: invalid redis url: %w", err)
		}
		return NewRedis(RedisConfig{Client: redis.NewClient(opt), KeyPrefix: cfg.KeyPrefix, OwnsClient: true}), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("prefs: unknown driver '%s'", cfg.Driver)
	}
}
