package web

import (
	"fmt"

	"botcore/pkg/api"
	"botcore/pkg/channels"

	jsoniter "github.com/json-iterator/go"
)

const defaultPort = 9453

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
	cfg := WebConfig{Port: defaultPort}
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("web channel requires a provider source")
	}
	return NewWebChannel(cfg, deps.Providers, deps.AttachmentsDir()), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
