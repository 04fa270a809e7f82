// Package config provides a reusable loader for cdcbridge configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"cdcbridge/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a cdcbridge deployment: one
// upstream collaborator, one sink, one sandboxed transform, the
// synchroniser's own tuning knobs, and logging. It mirrors the structure of
// the YAML files under cmd/config.
type Config struct {
	Upstream struct {
		// Kind selects the Client implementation: "memory" (for local
		// transform development) or "rpc" (a live JSON-RPC collaborator).
		Kind       string `mapstructure:"kind" json:"kind"`
		URL        string `mapstructure:"url" json:"url"`
		MaxRetries int    `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"upstream" json:"upstream"`

	Sandbox struct {
		// ArtifactPath is the path to the compiled WASM transform module.
		ArtifactPath   string `mapstructure:"artifact_path" json:"artifact_path"`
		MaxMemoryPages uint32 `mapstructure:"max_memory_pages" json:"max_memory_pages"`
	} `mapstructure:"sandbox" json:"sandbox"`

	Sink struct {
		// Kind selects the Sink implementation: "console", "file", or "null".
		Kind       string `mapstructure:"kind" json:"kind"`
		Path       string `mapstructure:"path" json:"path"`
		Pretty     bool   `mapstructure:"pretty" json:"pretty"`
		FlushEvery int    `mapstructure:"flush_every" json:"flush_every"`
		MaxRetries uint64 `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"sink" json:"sink"`

	Sync struct {
		StartHeight    uint32 `mapstructure:"start_height" json:"start_height"`
		PollIntervalMS int    `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
		CacheWindow    uint32 `mapstructure:"cache_window" json:"cache_window"`
		Source         string `mapstructure:"source" json:"source"`
		MetricsAddr    string `mapstructure:"metrics_addr" json:"metrics_addr"`
	} `mapstructure:"sync" json:"sync"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("CDCBRIDGE")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CDCBRIDGE_ENV environment
// variable to select an overlay file (e.g. "production" merges
// cmd/config/production.yaml over default.yaml).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CDCBRIDGE_ENV", ""))
}
