package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "pact-proxy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 0 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Pacts.Dir != "./pacts" || cfg.Pacts.Consumer != "consumer" {
		t.Errorf("Pacts = %+v", cfg.Pacts)
	}
	if cfg.Forward.Attempts != 5 || cfg.Forward.Backoff != time.Second {
		t.Errorf("Forward = %+v", cfg.Forward)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Telemetry.Tracing || cfg.Journal.Path != "" {
		t.Errorf("Metrics/Telemetry/Journal = %+v %+v %+v", cfg.Metrics, cfg.Telemetry, cfg.Journal)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty when no file was read", cfg.Path)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  port: 10500
pacts:
  dir: /tmp/contracts
  consumer: web
forward:
  attempts: 3
  backoff: 250ms
log:
  level: debug
  format: text
`)

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "file values",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 10500 || cfg.Pacts.Consumer != "web" || cfg.Pacts.Dir != "/tmp/contracts" {
					t.Errorf("cfg = %+v", cfg)
				}
				if cfg.Forward.Attempts != 3 || cfg.Forward.Backoff != 250*time.Millisecond {
					t.Errorf("Forward = %+v", cfg.Forward)
				}
				if cfg.Log.Format != "text" || cfg.Path != path {
					t.Errorf("Log = %+v, Path = %q", cfg.Log, cfg.Path)
				}
			},
		},
		{
			name: "env overrides file",
			env: map[string]string{
				"PACT_PROXY_SERVER__PORT":     "10900",
				"PACT_PROXY_PACTS__CONSUMER":  "mobile",
				"PACT_PROXY_METRICS__ENABLED": "false",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 10900 || cfg.Pacts.Consumer != "mobile" || cfg.Metrics.Enabled {
					t.Errorf("cfg = %+v", cfg)
				}
				if cfg.Pacts.Dir != "/tmp/contracts" {
					t.Errorf("unrelated file value lost: %q", cfg.Pacts.Dir)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded for a missing explicit file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"attempts", "forward:\n  attempts: 0\n", "forward.attempts"},
		{"backoff", "forward:\n  backoff: -1s\n", "forward.backoff"},
		{"format", "log:\n  format: xml\n", "log.format"},
		{"consumer", "pacts:\n  consumer: \"\"\n", "pacts.consumer"},
		{"yaml", "server: [\n", "load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Watch(ctx, path, logger, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_EmptyPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Watch(context.Background(), "", logger, func(*Config) {}); err == nil {
		t.Error("Watch() accepted an empty path")
	}
}
