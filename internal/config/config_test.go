package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "127.0.0.1:9999"

[monitor]
poll_interval_seconds = 45
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as existing")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9999" {
		t.Fatalf("api_bind = %q", cfg.Paths.APIBind)
	}
	if cfg.Monitor.PollIntervalSeconds != 45 {
		t.Fatalf("poll interval = %d, want 45", cfg.Monitor.PollIntervalSeconds)
	}
}

func TestPollIntervalClampedToMinimum(t *testing.T) {
	cfg := Default()
	cfg.Monitor.PollIntervalSeconds = 3
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Monitor.PollIntervalSeconds != minPollIntervalSeconds {
		t.Fatalf("poll interval = %d, want clamp to %d", cfg.Monitor.PollIntervalSeconds, minPollIntervalSeconds)
	}
}

func TestValidateRejectsBadBind(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Paths.APIBind = "not-an-address"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_bind") {
		t.Fatalf("expected api_bind validation error, got %v", err)
	}
}

func TestValidateRejectsBadLogging(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected logging.format validation error")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error when sample config already exists")
	}
}
