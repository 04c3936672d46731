package telegram

import (
	"fmt"

	"botcore/pkg/api"
	"botcore/pkg/channels"
	"botcore/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory 負責建立 Telegram Channels
type TelegramFactory struct{}

// Create 實作 ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	system := deps.System
	if system == nil {
		system = config.DefaultSystemConfig()
	}
	return NewTelegramChannel(tgCfg, system.TelegramMessageLimit, system.DownloadTimeoutMs, deps.AttachmentsDir())
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
