package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.State.TTL != 5*time.Minute {
		t.Errorf("State.TTL = %v, want 5m", cfg.State.TTL)
	}
	if cfg.EventBus.Retention != 24*time.Hour {
		t.Errorf("EventBus.Retention = %v, want 24h", cfg.EventBus.Retention)
	}
	if cfg.Gateway.MaxConcurrent != 5 {
		t.Errorf("Gateway.MaxConcurrent = %d, want 5", cfg.Gateway.MaxConcurrent)
	}
	if cfg.Dispatch.WindowSize != 80 {
		t.Errorf("Dispatch.WindowSize = %d, want 80", cfg.Dispatch.WindowSize)
	}
	if cfg.State.QueueSize != 1024 {
		t.Errorf("State.QueueSize = %d, want 1024", cfg.State.QueueSize)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  port: 9090\ngateway:\n  max_concurrent: 10\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Gateway.MaxConcurrent != 10 {
		t.Errorf("Gateway.MaxConcurrent = %d, want 10", cfg.Gateway.MaxConcurrent)
	}
	// Untouched keys keep their defaults.
	if cfg.Gateway.CallTimeout != 30*time.Second {
		t.Errorf("Gateway.CallTimeout = %v, want 30s", cfg.Gateway.CallTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TEXTLINE_SERVER__PORT", "7070")
	t.Setenv("TEXTLINE_GATEWAY__MAX_RETRIES", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Gateway.MaxRetries != 7 {
		t.Errorf("Gateway.MaxRetries = %d, want 7", cfg.Gateway.MaxRetries)
	}
}
