package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botcore/pkg/api"
	"botcore/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
type GatewayManager struct {
	channels   map[string]api.Channel
	order      []string
	msgHandler api.MessageHandler
	monitor    monitor.Monitor // 監控器
	log        *slog.Logger
	mu         sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]api.Channel),
		log:      slog.Default().With("component", "gateway"),
	}
}

// SetMessageHandler 設定處理訊息的核心邏輯
func (g *GatewayManager) SetMessageHandler(handler api.MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.msgHandler = handler
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.monitor = m
}

func (g *GatewayManager) observe(msgType string, session api.SessionContext, content string) {
	g.mu.RLock()
	m := g.monitor
	g.mu.RUnlock()
	if m == nil {
		return
	}
	m.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: msgType,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	})
}

// Register 註冊一個 Channel；同 ID 後註冊者覆蓋前者
func (g *GatewayManager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.channels[c.ID()]; !exists {
		g.order = append(g.order, c.ID())
	}
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs returns the registered channel ids in registration order.
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

func (g *GatewayManager) snapshot() []api.Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]api.Channel, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.channels[id])
	}
	return out
}

// StartAll 啟動所有已註冊的 Channels，遇到第一個錯誤即停止
func (g *GatewayManager) StartAll() error {
	for _, c := range g.snapshot() {
		g.log.Info("Starting channel", "channel", c.ID())
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", c.ID(), err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() error {
	var errs []error
	for _, c := range g.snapshot() {
		g.log.Info("Stopping channel", "channel", c.ID())
		if err := c.Stop(); err != nil {
			g.log.Error("Error stopping channel", "channel", c.ID(), "error", err)
			errs = append(errs, fmt.Errorf("stop channel %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// SendReply 統一的回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session api.SessionContext, content string) error {
	g.log.Debug("Reply", "channel", session.ChannelID, "user", session.Username, "content", content)
	g.observe(monitor.TypeAssistant, session, content)

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// OnMessage 實作 ChannelContext 介面，接收來自 Channel 的訊息
func (g *GatewayManager) OnMessage(channelID string, msg *api.UnifiedMessage) {
	g.log.Info("Received message",
		"channel", channelID,
		"user", msg.Session.Username,
		"user_id", msg.Session.UserID,
		"files", len(msg.Files),
	)

	g.observe(monitor.TypeUser, msg.Session, msg.Content)

	g.mu.RLock()
	handler := g.msgHandler
	g.mu.RUnlock()

	if handler == nil {
		g.log.Warn("No message handler set")
		return
	}
	handler(msg)
}
