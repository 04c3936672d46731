package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings: the declared providers, the settings shared by
// every provider, and the channel payloads.
type Config struct {
	// Provider is the ordered list of declared provider instances.
	// Order matters: it drives construction order and the fallback
	// choice of the current provider.
	Provider []ProviderEntry `json:"provider"`
	// ProviderSettings holds category-agnostic defaults and toggles handed
	// to every provider constructor (system prompt, history persistence...).
	ProviderSettings ProviderSettings `json:"provider_settings"`
	// ProviderSTTSettings selects and toggles the speech-to-text feature.
	ProviderSTTSettings STTSettings `json:"provider_stt_settings"`
	// KnowledgeDB lists the configured knowledge bases. Only the first key
	// (in document order) is used, as the current knowledge base name.
	KnowledgeDB OrderedObject `json:"knowledge_db"`
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
}

// STTSettings is the provider_stt_settings section.
type STTSettings struct {
	Enable     bool   `json:"enable"`
	ProviderID string `json:"provider_id"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// Only enabled entries need an id. A missing or unknown type is not checked
// here: the provider manager skips such entries one by one.
func (c *Config) Validate() error {
	for i, entry := range c.Provider {
		if entry.Enable && entry.ID == "" {
			return fmt.Errorf("provider entry #%d is missing mandatory 'id'", i)
		}
	}
	return nil
}

// Parse decodes and validates an application config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.ProviderSettings == nil {
		cfg.ProviderSettings = ProviderSettings{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the application config file at path.
// A missing file is an error: the host cannot guess which providers to run.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file '%s' not found. please create one", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control where the
// engine keeps its state and how patient it is with slow providers.
type SystemConfig struct {
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// DataDir is the root directory for persisted state and attachments.
	DataDir string `json:"data_dir"`
	// HistoryDB is the SQLite file holding conversation histories.
	// Relative paths are resolved against DataDir. Empty keeps histories in memory.
	HistoryDB string `json:"history_db"`
	// Preferences configures the selection state store.
	Preferences PreferencesConfig `json:"preferences"`
	// ProviderInitTimeoutMs bounds each provider constructor. Zero disables the bound.
	ProviderInitTimeoutMs int `json:"provider_init_timeout_ms"`
	// ProviderTerminateTimeoutMs bounds the whole provider shutdown pass.
	ProviderTerminateTimeoutMs int `json:"provider_terminate_timeout_ms"`
	// ChatTimeoutMs bounds one chat or transcription request made on behalf
	// of a channel message.
	ChatTimeoutMs int `json:"chat_timeout_ms"`
	// WatchConfig enables hot reload of config.json.
	WatchConfig bool `json:"watch_config"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media or files (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
}

// PreferencesConfig selects the backend of the persisted key-value state.
type PreferencesConfig struct {
	// Driver is one of "file", "redis" or "memory".
	Driver string `json:"driver"`
	// Path is the JSON file used by the file driver, relative to DataDir.
	Path string `json:"path"`
	// RedisURL is a redis:// URL used by the redis driver.
	RedisURL string `json:"redis_url"`
	// KeyPrefix namespaces keys in shared backends.
	KeyPrefix string `json:"key_prefix"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		LogLevel:  "info",
		DataDir:   "data",
		HistoryDB: "history.db",
		Preferences: PreferencesConfig{
			Driver:    "file",
			Path:      "shared_preferences.json",
			KeyPrefix: "botcore:",
		},
		ProviderInitTimeoutMs:      30000,
		ProviderTerminateTimeoutMs: 10000,
		ChatTimeoutMs:              120000,
		WatchConfig:                false,
		TelegramMessageLimit:       4000,
		DownloadTimeoutMs:          10000,
	}
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	return cfg
}
