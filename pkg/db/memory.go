package db

import (
	"context"
	"sync"

	"botcore/pkg/llm"
)

type historyKey struct {
	provider string
	session  string
}

// Memory is a process-local Database. Messages are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	histories map[historyKey][]llm.Message
	closed    bool
}

func NewMemory() *Memory {
	return &Memory{histories: make(map[historyKey][]llm.Message)}
}

func (m *Memory) LoadHistory(_ context.Context, providerID, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	msgs, ok := m.histories[historyKey{providerID, sessionID}]
	if !ok {
		return nil, nil
	}
	return append([]llm.Message(nil), msgs...), nil
}

func (m *Memory) SaveHistory(_ context.Context, providerID, sessionID string, messages []llm.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.histories[historyKey{providerID, sessionID}] = append([]llm.Message(nil), messages...)
	return nil
}

func (m *Memory) DeleteHistory(_ context.Context, providerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.histories, historyKey{providerID, sessionID})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.histories = nil
	return nil
}
