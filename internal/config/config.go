// Package config loads proxy settings from an optional YAML file and
// PACT_PROXY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: PACT_PROXY_SERVER__PORT sets server.port.
const EnvPrefix = "PACT_PROXY_"

// DefaultPath is read when no config file is named; it may be absent.
const DefaultPath = "pact-proxy.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pacts     PactsConfig     `koanf:"pacts"`
	Forward   ForwardConfig   `koanf:"forward"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Journal   JournalConfig   `koanf:"journal"`

	// Path is the file the config was read from, empty when none was.
	Path string `koanf:"-"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"` // 0 picks a random free port
}

type PactsConfig struct {
	Dir      string `koanf:"dir"`
	Consumer string `koanf:"consumer"`
}

type ForwardConfig struct {
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type JournalConfig struct {
	Path string `koanf:"path"` // empty disables the journal
}

var defaults = map[string]any{
	"server.host":       "127.0.0.1",
	"server.port":       0,
	"pacts.dir":         "./pacts",
	"pacts.consumer":    "consumer",
	"forward.attempts":  5,
	"forward.backoff":   "1s",
	"log.level":         "info",
	"log.format":        "json",
	"telemetry.tracing": false,
	"metrics.enabled":   true,
	"journal.path":      "",
}

// Load reads path (or DefaultPath when empty, tolerating its absence), then
// environment overrides, then fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultPath
	}

	loaded := path
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		loaded = ""
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = loaded

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Pacts.Dir == "":
		return errors.New("pacts.dir must be set")
	case c.Pacts.Consumer == "":
		return errors.New("pacts.consumer must be set")
	case c.Forward.Attempts < 1:
		return fmt.Errorf("forward.attempts must be at least 1, got %d", c.Forward.Attempts)
	case c.Forward.Backoff < 0:
		return fmt.Errorf("forward.backoff must not be negative, got %s", c.Forward.Backoff)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
