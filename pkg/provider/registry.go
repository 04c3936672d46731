package provider

import (
	"sort"
	"sync"
)

// Registration is the metadata of one adapter type. Exactly one of NewChat
// and NewSTT is set, matching Category.
type Registration struct {
	Type     string
	Category Category
	NewChat  ChatConstructor
	NewSTT   STTConstructor
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register inserts or replaces the registration for r.Type. The last
// registration for a type wins.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[r.Type] = r
}

// RegisterChat registers a chat-completion adapter.
func RegisterChat(typeID string, c ChatConstructor) {
	Register(Registration{Type: typeID, Category: ChatCompletion, NewChat: c})
}

// RegisterSTT registers a speech-to-text adapter.
func RegisterSTT(typeID string, c STTConstructor) {
	Register(Registration{Type: typeID, Category: SpeechToText, NewSTT: c})
}

// Resolve looks up the registration for typeID.
func Resolve(typeID string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[typeID]
	return r, ok
}

// RegisteredTypes lists registered type identifiers, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
