package provider

import (
	"fmt"
	"net/http"
	"time"

	"botcore/pkg/config"
	"botcore/pkg/llm"
)

// DefaultRequestTimeout applies when an entry has no timeout.
const DefaultRequestTimeout = 120 * time.Second

// ModelConfig is the model_config object of an entry.
type ModelConfig struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// AdapterConfig holds the entry fields shared by the HTTP-backed adapters.
type AdapterConfig struct {
	Keys    []string `json:"key"`
	APIBase string   `json:"api_base"`
	// Timeout is in seconds.
	Timeout     int         `json:"timeout"`
	ModelConfig ModelConfig `json:"model_config"`
}

// DecodeAdapterConfig reads the shared adapter fields from entry.
func DecodeAdapterConfig(entry config.ProviderEntry) (AdapterConfig, error) {
	var cfg AdapterConfig
	if err := entry.Decode(&cfg); err != nil {
		return AdapterConfig{}, err
	}
	return cfg, nil
}

// APIKey returns the first non-empty key.
func (c AdapterConfig) APIKey() string {
	for _, k := range c.Keys {
		if k != "" {
			return k
		}
	}
	return ""
}

// RequireKey fails when the entry carries no API key.
func (c AdapterConfig) RequireKey(entry config.ProviderEntry) (string, error) {
	key := c.APIKey()
	if key == "" {
		return "", fmt.Errorf("provider %s: no api key configured", entry.ID)
	}
	return key, nil
}

func (c AdapterConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// ModelOr returns the configured model or def.
func (c AdapterConfig) ModelOr(def string) string {
	if c.ModelConfig.Model != "" {
		return c.ModelConfig.Model
	}
	return def
}

// HTTPClient returns a dedicated client for the instance so Terminate can
// release its connections.
func (c AdapterConfig) HTTPClient() *http.Client {
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		Timeout:   c.RequestTimeout(),
	}
}

// NormalizeStopReason maps vendor finish reasons onto the llm constants.
func NormalizeStopReason(reason string) string {
	switch reason {
	case "stop", "STOP", "end_turn":
		return llm.StopReasonStop
	case "length", "MAX_TOKENS", "max_tokens":
		return llm.StopReasonLength
	default:
		return reason
	}
}
