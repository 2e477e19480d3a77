package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NikZak/pact-proxy/internal/config"
	"github.com/NikZak/pact-proxy/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1"},
		Pacts:   config.PactsConfig{Dir: filepath.Join(t.TempDir(), "pacts"), Consumer: "consumer"},
		Forward: config.ForwardConfig{Attempts: 1, Backoff: time.Millisecond},
		Log:     config.LogConfig{Level: "info", Format: "json"},
		Metrics: config.MetricsConfig{Enabled: true},
		Journal: config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"-f", "/tmp/contracts", "-p", "10123", "--log-format", "text"}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0},
		Pacts:  config.PactsConfig{Dir: "./pacts", Consumer: "from-file"},
		Log:    config.LogConfig{Level: "warn", Format: "json"},
	}
	var flags rootFlags
	flags.pactsDir, _ = cmd.Flags().GetString("pact-files-folder")
	flags.port, _ = cmd.Flags().GetInt("port")
	flags.logFormat, _ = cmd.Flags().GetString("log-format")

	applyFlags(cmd, &flags, cfg)

	if cfg.Pacts.Dir != "/tmp/contracts" || cfg.Server.Port != 10123 || cfg.Log.Format != "text" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Pacts.Consumer != "from-file" || cfg.Log.Level != "warn" {
		t.Errorf("unset flags overrode config: %+v", cfg)
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	var out bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, &out) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	logs := out.String()
	for _, want := range []string{"pact-proxy started", "pact-proxy stopped"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q:\n%s", want, logs)
		}
	}
	if _, err := os.Stat(cfg.Pacts.Dir); err != nil {
		t.Errorf("pacts dir not created: %v", err)
	}
}

func TestRun_CorruptPactAbortsStartup(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.Pacts.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Pacts.Dir, "bad.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), cfg, &bytes.Buffer{})
	if !errors.Is(err, domain.ErrStartupLoad) {
		t.Errorf("run() error = %v, want StartupLoadError", err)
	}
}

func TestRun_InvalidLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "loud"
	if err := run(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Error("run() accepted an invalid log level")
	}
}
