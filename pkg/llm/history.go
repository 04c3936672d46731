package llm

import (
	"sync"
)

// ChatHistory 管理對話歷史，支援滑動窗口 (Sliding Window) 限制長度
type ChatHistory struct {
	messages []Message
	max      int
	mu       sync.RWMutex
}

// NewChatHistory 建立一個新的歷史管理員；max <= 0 表示不限制長度
func NewChatHistory(max int) *ChatHistory {
	return &ChatHistory{
		messages: make([]Message, 0),
		max:      max,
	}
}

// Add 加入新訊息，若超過長度則移除最舊的
func (h *ChatHistory) Add(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	h.trim()
}

// Replace 以給定訊息取代目前的歷史（例如從資料庫載入）
func (h *ChatHistory) Replace(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(make([]Message, 0, len(msgs)), msgs...)
	h.trim()
}

func (h *ChatHistory) trim() {
	if h.max <= 0 || len(h.messages) <= h.max {
		return
	}
	drop := len(h.messages) - h.max
	// 不要從 assistant 回覆開始，保持 user/assistant 成對
	for drop < len(h.messages) && h.messages[drop].Role == RoleAssistant {
		drop++
	}
	h.messages = append([]Message(nil), h.messages[drop:]...)
}

// GetMessages 取得目前的對話歷史副本
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Len 回傳目前訊息數量
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear 清空歷史
func (h *ChatHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
}
