package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ModelTierConfig maps AI model identifiers to a coarse cost tier.
type ModelTierConfig struct {
	Models map[string]string `mapstructure:"models"`
}

// ModelTierHolder serves the current model-tier mapping and hot-reloads it
// when the config file changes. When no config file is present the holder
// reports not-ready and callers fall back to their static table.
type ModelTierHolder struct {
	current atomic.Value // holds ModelTierConfig
	ready   atomic.Bool
}

func NewModelTierHolder() (*ModelTierHolder, error) {
	v := viper.New()

	v.SetConfigName("modeltiers")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditcore/config")
	v.AddConfigPath("/etc/creditcore")
	v.AddConfigPath(".")

	holder := &ModelTierHolder{}
	holder.current.Store(ModelTierConfig{})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: stay not-ready, callers use the fallback table.
		return holder, nil
	}

	var cfg ModelTierConfig
	if err := v.UnmarshalKey("tiers", &cfg); err != nil {
		return nil, err
	}
	holder.store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ModelTierConfig
		if err := v.UnmarshalKey("tiers", &updated); err != nil {
			log.Printf("[modeltiers] reload failed: %v", err)
			return
		}
		holder.store(updated)
		log.Printf("[modeltiers] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ModelTierHolder) store(cfg ModelTierConfig) {
	normalized := ModelTierConfig{Models: make(map[string]string, len(cfg.Models))}
	for model, tier := range cfg.Models {
		normalized.Models[strings.ToLower(strings.TrimSpace(model))] = strings.ToLower(strings.TrimSpace(tier))
	}
	h.current.Store(normalized)
	h.ready.Store(len(normalized.Models) > 0)
}

// Ready reports whether a dynamic mapping was loaded.
func (h *ModelTierHolder) Ready() bool {
	return h != nil && h.ready.Load()
}

// Tier returns the configured tier for a model, if present.
func (h *ModelTierHolder) Tier(model string) (string, bool) {
	if h == nil {
		return "", false
	}
	cfg := h.current.Load().(ModelTierConfig)
	tier, ok := cfg.Models[strings.ToLower(strings.TrimSpace(model))]
	return tier, ok
}
