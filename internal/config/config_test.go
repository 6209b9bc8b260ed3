package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.ServerURL = "wss://control-plane.example.com/agent"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults (with a server url) to validate, got: %v", err)
	}
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.ServerURL = "wss://x"
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for schema_version 2")
	}
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.DeviceID = ""
	cfg.Signal.QueueSize = 0
	cfg.Memory.MinAttempts = 0

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"device_id", "queue_size", "min_attempts"} {
		if !contains(msg, want) {
			t.Errorf("expected error message to mention %q, got: %s", want, msg)
		}
	}
}

func TestLoad_MergesOverFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "device_id: host-1\ntransport:\n  server_url: wss://control.example.com\n  heartbeat_interval: 45s\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceID != "host-1" {
		t.Errorf("device_id = %q, want host-1", cfg.DeviceID)
	}
	if cfg.Transport.ServerURL != "wss://control.example.com" {
		t.Errorf("transport.server_url = %q", cfg.Transport.ServerURL)
	}
	if cfg.Memory.MinAttempts != 5 {
		t.Errorf("memory.min_attempts should retain default 5, got %d", cfg.Memory.MinAttempts)
	}
}

func TestLoad_InvalidFilePath(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
