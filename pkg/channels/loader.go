package channels

import (
	"log/slog"
	"maps"
	"slices"

	"botcore/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Registrar receives the channels built by LoadFromConfig.
type Registrar interface {
	Register(c api.Channel)
}

// LoadFromConfig builds a channel for every entry of the channels section
// whose name has a registered factory and registers it with gw. Entries are
// processed in name order; failures are logged and skipped. It returns the
// names of the registered channels.
func LoadFromConfig(gw Registrar, configs map[string]jsoniter.RawMessage, deps Deps) []string {
	var loaded []string
	for _, name := range slices.Sorted(maps.Keys(configs)) {
		rawConfig := configs[name]

		var toggle struct {
			Enable *bool `json:"enable"`
		}
		if err := json.Unmarshal(rawConfig, &toggle); err == nil && toggle.Enable != nil && !*toggle.Enable {
			slog.Info("Channel disabled", "name", name)
			continue
		}

		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, deps)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., certain conditions not met but not an error), skip
		if channel == nil {
			continue
		}

		gw.Register(channel)
		loaded = append(loaded, name)
		slog.Info("Channel registered", "name", name)
	}
	return loaded
}
