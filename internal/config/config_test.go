package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Default Tests
// =============================================================================

// TestDefaultConfig verifies the safety-relevant defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Remediation.MaxConcurrentRemediations != 5 {
		t.Errorf("expected default concurrency 5, got %d", cfg.Remediation.MaxConcurrentRemediations)
	}
	if !cfg.Remediation.SnapshotBeforeChange {
		t.Error("snapshots must default on")
	}
	if !cfg.Remediation.AutoRollback {
		t.Error("rollback must default on")
	}
	if cfg.Cloud.Provider != "memory" {
		t.Errorf("expected memory provider by default, got %s", cfg.Cloud.Provider)
	}
	if cfg.AI.Enabled {
		t.Error("AI collaborator must default off")
	}
	if !cfg.Script.Sanitize {
		t.Error("script sanitizer must default on")
	}
}

// =============================================================================
// Load Tests
// =============================================================================

// TestLoad verifies YAML values override defaults while unset fields keep
// them.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9999
remediation:
  automated_remediation_enabled: false
  max_concurrent_remediations: 12
redis:
  enabled: true
  addr: redis.internal:6379
  history_ttl: 72h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Remediation.AutomatedRemediationEnabled {
		t.Error("automation gate should be off per the file")
	}
	if cfg.Remediation.MaxConcurrentRemediations != 12 {
		t.Errorf("expected concurrency 12, got %d", cfg.Remediation.MaxConcurrentRemediations)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis settings not applied: %+v", cfg.Redis)
	}
	if cfg.Redis.HistoryTTL != 72*time.Hour {
		t.Errorf("expected 72h history TTL, got %s", cfg.Redis.HistoryTTL)
	}

	// Untouched sections keep their defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected default read timeout, got %s", cfg.Server.ReadTimeout)
	}
	if !cfg.Remediation.SnapshotBeforeChange {
		t.Error("unset snapshot flag should keep its default")
	}
}

// TestLoad_MissingFile verifies a missing file is an error.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

// TestLoad_MalformedYAML verifies parse errors surface.
func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
