package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "mcpbroker.jsonc")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadUnifiedConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		// minimal broker config
		"server": {"address": ":9090"}
	}`)

	cfg, err := LoadUnifiedConfig(path)
	if err != nil {
		t.Fatalf("LoadUnifiedConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("Address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Server.SessionTTL != "30m" {
		t.Errorf("SessionTTL = %q, want default 30m", cfg.Server.SessionTTL)
	}
	if len(cfg.Server.AllowedHosts) == 0 {
		t.Error("AllowedHosts should default to a non-empty localhost allowlist")
	}
	if cfg.Events.Backend != "memory" {
		t.Errorf("Events.Backend = %q, want memory default", cfg.Events.Backend)
	}
}

func TestLoadUnifiedConfigSQLiteRequiresPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"events": {"backend": "sqlite"}}`)

	cfg, err := LoadUnifiedConfig(path)
	if err != nil {
		t.Fatalf("LoadUnifiedConfig: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject sqlite backend with no path")
	}
}

func TestFindConfigPathMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindConfigPath(dir); err == nil {
		t.Error("expected error when no config file exists")
	}
}

func TestToLoadedConfigParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"server": {"address": ":8080", "session_ttl": "1h"},
		"tasks": {"reap_interval": "15s"}
	}`)

	unified, err := LoadUnifiedConfig(path)
	if err != nil {
		t.Fatalf("LoadUnifiedConfig: %v", err)
	}
	loaded, err := unified.ToLoadedConfig()
	if err != nil {
		t.Fatalf("ToLoadedConfig: %v", err)
	}
	if loaded.SessionTTL.String() != "1h0m0s" {
		t.Errorf("SessionTTL = %v", loaded.SessionTTL)
	}
	if loaded.TaskReapInterval.String() != "15s" {
		t.Errorf("TaskReapInterval = %v", loaded.TaskReapInterval)
	}
}
