package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Watch.DebounceMs != DefaultDebounceMs {
		t.Errorf("DebounceMs = %d, want %d", cfg.Watch.DebounceMs, DefaultDebounceMs)
	}
	if cfg.IdleTimeoutMinutes != nil {
		t.Error("IdleTimeoutMinutes should be unset by default")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ConfigDir)
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return dir
}

func TestLoadReadsValues(t *testing.T) {
	dir := writeConfig(t, `version: 1
idle_timeout_minutes: 5
watch:
  debounce_ms: 150
ignore:
  - third_party/
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.IdleTimeoutMinutes == nil || *cfg.IdleTimeoutMinutes != 5 {
		t.Errorf("IdleTimeoutMinutes = %v, want 5", cfg.IdleTimeoutMinutes)
	}
	if cfg.Watch.DebounceMs != 150 {
		t.Errorf("DebounceMs = %d, want 150", cfg.Watch.DebounceMs)
	}
	if len(cfg.Ignore) != 1 || cfg.Ignore[0] != "third_party/" {
		t.Errorf("Ignore = %v", cfg.Ignore)
	}
}

func TestLoadBackfillsPartialConfig(t *testing.T) {
	dir := writeConfig(t, "version: 1\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Watch.DebounceMs != DefaultDebounceMs {
		t.Errorf("DebounceMs = %d, want backfilled %d", cfg.Watch.DebounceMs, DefaultDebounceMs)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := writeConfig(t, "version: [unclosed\n")

	if _, err := Load(dir); err == nil {
		t.Error("Load() succeeded on malformed YAML")
	}
}

func TestResolveIdleTimeoutPrecedence(t *testing.T) {
	five := 5
	zero := 0

	tests := []struct {
		name string
		cfg  Config
		flag int
		want int
	}{
		{"flag wins over config", Config{IdleTimeoutMinutes: &five}, 10, 10},
		{"flag zero disables", Config{IdleTimeoutMinutes: &five}, 0, 0},
		{"config wins over default", Config{IdleTimeoutMinutes: &five}, -1, 5},
		{"config zero disables", Config{IdleTimeoutMinutes: &zero}, -1, 0},
		{"default", Config{}, -1, DefaultIdleTimeoutMinutes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveIdleTimeoutMinutes(tt.flag); got != tt.want {
				t.Errorf("ResolveIdleTimeoutMinutes(%d) = %d, want %d", tt.flag, got, tt.want)
			}
		})
	}
}
