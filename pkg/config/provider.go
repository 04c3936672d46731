package config

import (
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// ProviderEntry is one declared provider instance. Only the generic fields
// are decoded here; the full document is kept so adapters can decode their
// own fields with Decode.
type ProviderEntry struct {
	ID     string
	Type   string
	Enable bool

	raw jsoniter.RawMessage
}

// NewProviderEntry builds an entry programmatically. extra carries the
// adapter-specific fields.
func NewProviderEntry(id, typ string, enable bool, extra map[string]any) ProviderEntry {
	doc := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		doc[k] = v
	}
	doc["id"] = id
	doc["type"] = typ
	doc["enable"] = enable

	raw, _ := json.Marshal(doc)
	return ProviderEntry{ID: id, Type: typ, Enable: enable, raw: raw}
}

func (e *ProviderEntry) UnmarshalJSON(data []byte) error {
	var head struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Enable *bool  `json:"enable"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("invalid provider entry: %w", err)
	}

	e.ID = head.ID
	e.Type = head.Type
	// A missing flag means disabled.
	e.Enable = head.Enable != nil && *head.Enable
	e.raw = append(jsoniter.RawMessage(nil), data...)
	return nil
}

func (e ProviderEntry) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(map[string]any{"id": e.ID, "type": e.Type, "enable": e.Enable})
}

// Decode unmarshals the full entry document into v.
func (e ProviderEntry) Decode(v any) error {
	if len(e.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("provider %s: failed to decode config: %w", e.ID, err)
	}
	return nil
}

// ProviderSettings is the provider_settings mapping shared by every provider.
type ProviderSettings map[string]any

const (
	// SettingPersistHistory is spelled the way deployed config files spell it.
	SettingPersistHistory = "persistant_history"
	SettingSystemPrompt   = "system_prompt"
	SettingMaxContext     = "max_context_messages"
)

// Bool returns the boolean at key, or def when absent or not a boolean.
func (s ProviderSettings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string at key, or def when absent or not a string.
func (s ProviderSettings) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer at key. JSON numbers arrive as float64; numeric
// strings are accepted too.
func (s ProviderSettings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// PersistHistory reports whether chat providers should persist histories.
// Defaults to true.
func (s ProviderSettings) PersistHistory() bool {
	return s.Bool(SettingPersistHistory, true)
}

// OrderedObject is a JSON object that remembers its key order.
type OrderedObject struct {
	keys   []string
	values map[string]jsoniter.RawMessage
}

func (o *OrderedObject) UnmarshalJSON(data []byte) error {
	o.keys = nil
	o.values = make(map[string]jsoniter.RawMessage)

	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.Skip()
		return nil
	case jsoniter.ObjectValue:
	default:
		return fmt.Errorf("expected a JSON object")
	}

	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		raw := it.SkipAndReturnBytes()
		if _, seen := o.values[key]; !seen {
			o.keys = append(o.keys, key)
		}
		o.values[key] = append(jsoniter.RawMessage(nil), raw...)
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return iter.Error
	}
	return nil
}

func (o OrderedObject) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range o.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		stream.WriteRaw(string(o.values[k]))
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// Keys returns the keys in document order.
func (o OrderedObject) Keys() []string {
	return append([]string(nil), o.keys...)
}

// First returns the first key, or "" for an empty or absent object.
func (o OrderedObject) First() string {
	if len(o.keys) == 0 {
		return ""
	}
	return o.keys[0]
}

// Get returns the raw value stored under key.
func (o OrderedObject) Get(key string) (jsoniter.RawMessage, bool) {
	v, ok := o.values[key]
	return v, ok
}
