package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RegistryConfig is the YAML-declared metric catalog loaded at process
// start. Metric definitions and data sources declared here are seeded
// into storage during bootstrap; runtime edits go through the catalog
// service, not this file.
type RegistryConfig struct {
	Metrics     []MetricEntry     `mapstructure:"metrics"`
	DataSources []DataSourceEntry `mapstructure:"dataSources"`
}

type MetricEntry struct {
	Key                  string   `mapstructure:"key"`
	Label                string   `mapstructure:"label"`
	Unit                 string   `mapstructure:"unit"`
	RollupStrategy       string   `mapstructure:"rollupStrategy"`
	DefaultGranularity   string   `mapstructure:"defaultGranularity"`
	AllowedGranularities []string `mapstructure:"allowedGranularities"`
	Owner                string   `mapstructure:"owner"`
	Dimensions           []string `mapstructure:"dimensions"`
}

type DataSourceEntry struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	Enabled *bool  `mapstructure:"enabled"`
}

// RegistryHolder exposes the current registry config. Reads are
// lock-free; reload swaps the whole value atomically so concurrent
// requests never observe a half-applied file.
type RegistryHolder struct {
	current atomic.Value // holds RegistryConfig
	v       *viper.Viper
}

func NewRegistryHolder() (*RegistryHolder, error) {
	v := viper.New()

	v.SetConfigName("registry")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/factline/config")
	v.AddConfigPath("/etc/factline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FACTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg RegistryConfig
	if err := v.UnmarshalKey("registry", &cfg); err != nil {
		return nil, err
	}
	if err := validateRegistryConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RegistryHolder{v: v}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.Reload(); err != nil {
			log.Printf("[registry-config] invalid config ignored: %v", err)
			return
		}
		log.Printf("[registry-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RegistryHolder) Get() RegistryConfig {
	return h.current.Load().(RegistryConfig)
}

// Reload re-reads the registry file and swaps the held config. Invalid
// content leaves the previous config in place.
func (h *RegistryHolder) Reload() error {
	var updated RegistryConfig
	if err := h.v.UnmarshalKey("registry", &updated); err != nil {
		return err
	}
	if err := validateRegistryConfig(updated); err != nil {
		return err
	}
	h.current.Store(updated)
	return nil
}

func validateRegistryConfig(cfg RegistryConfig) error {
	seen := make(map[string]bool, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		key := strings.TrimSpace(m.Key)
		if key == "" {
			return errors.New("registry.metrics entries require a key")
		}
		if seen[key] {
			return errors.New("registry.metrics contains duplicate key " + key)
		}
		seen[key] = true
	}
	for _, ds := range cfg.DataSources {
		if strings.TrimSpace(ds.ID) == "" {
			return errors.New("registry.dataSources entries require an id")
		}
	}
	return nil
}
