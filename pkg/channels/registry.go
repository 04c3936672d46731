package channels

import (
	"path/filepath"
	"sync"

	"botcore/pkg/api"
	"botcore/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// Deps are the shared resources handed to every channel factory.
type Deps struct {
	Providers api.ProviderSource
	System    *config.SystemConfig
}

// AttachmentsDir is where channels save uploaded files.
func (d Deps) AttachmentsDir() string {
	dataDir := "data"
	if d.System != nil && d.System.DataDir != "" {
		dataDir = d.System.DataDir
	}
	return filepath.Join(dataDir, "attachments")
}

// ChannelFactory defines the abstract interface for platform-specific
// channel creators. This allows the system to support new platforms
// (e.g., Line, Discord) without modifying the core gateway logic.
type ChannelFactory interface {
	// Create instantiates a concrete Channel implementation using the
	// provided configuration and shared system resources.
	Create(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error)
}

var (
	registryMu sync.RWMutex
	// channelRegistry maps platform names (e.g., "telegram") to their factories.
	channelRegistry = make(map[string]ChannelFactory)
)

// RegisterChannel adds a new ChannelFactory to the global internal registry.
// This is typically called during the package's init() phase.
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}
