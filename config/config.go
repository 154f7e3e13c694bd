// Package config loads runtime settings for the rocrate tools from YAML,
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"rocrate.dev/rocrate/compliance"
	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/storage"
)

// EnvPrefix prefixes environment overrides: ROCRATE_HTTP_TIMEOUT sets
// http.timeout.
const EnvPrefix = "ROCRATE"

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Collect CollectConfig `mapstructure:"collect" yaml:"collect"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type CollectConfig struct {
	// Mode is "strict" or "permissive".
	Mode      string `mapstructure:"mode" yaml:"mode"`
	Recursive bool   `mapstructure:"recursive" yaml:"recursive"`
	Parallel  int    `mapstructure:"parallel" yaml:"parallel"`
	MaxDepth  int    `mapstructure:"max_depth" yaml:"max_depth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:      fetch.DefaultTimeout,
			UserAgent:    fetch.DefaultUserAgent,
			MaxBodyBytes: fetch.DefaultMaxBodyBytes,
		},
		Collect: CollectConfig{Mode: "permissive", Parallel: 1},
		Store:   StoreConfig{WritePolicy: "first"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) over the defaults and applies ROCRATE_*
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.max_body_bytes", d.HTTP.MaxBodyBytes)
	v.SetDefault("collect.mode", d.Collect.Mode)
	v.SetDefault("collect.recursive", d.Collect.Recursive)
	v.SetDefault("collect.parallel", d.Collect.Parallel)
	v.SetDefault("collect.max_depth", d.Collect.MaxDepth)
	v.SetDefault("store.write_policy", d.Store.WritePolicy)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.HTTP.Timeout < 0 {
		return errors.New("config: http.timeout must not be negative")
	}
	if _, err := compliance.ParseMode(c.Collect.Mode); err != nil {
		return fmt.Errorf("config: collect.mode: %w", err)
	}
	if c.Collect.Parallel < 0 || c.Collect.MaxDepth < 0 {
		return errors.New("config: collect.parallel and collect.max_depth must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: invalid log.format %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if len(c.Store.Backends) > 0 {
		return c.Store.Validate()
	}
	return nil
}

// Mode returns the configured collection mode.
func (c Config) Mode() compliance.ComplianceMode {
	m, _ := compliance.ParseMode(c.Collect.Mode)
	return m
}

// FetchOptions translates the http section into fetcher options.
func (c Config) FetchOptions(logger *slog.Logger, store storage.CAS) []fetch.Option {
	opts := []fetch.Option{
		fetch.WithTimeout(c.HTTP.Timeout),
		fetch.WithUserAgent(c.HTTP.UserAgent),
		fetch.WithMaxBodyBytes(c.HTTP.MaxBodyBytes),
		fetch.WithLogger(logger),
	}
	if store != nil {
		opts = append(opts, fetch.WithStore(store))
	}
	return opts
}

// ParseLevel maps a level name onto slog levels. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: invalid log.level %q", s)
	}
}

// YAML renders the effective configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
