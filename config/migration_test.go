package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithMigration(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("empty path returns nil", func(t *testing.T) {
		cfg := NewConfig()
		if err := cfg.LoadWithMigration(""); err != nil {
			t.Errorf("expected nil for empty path: %v", err)
		}
	})

	t.Run("nonexistent file errors", func(t *testing.T) {
		cfg := NewConfig()
		if err := cfg.LoadWithMigration(filepath.Join(tmpDir, "nope.json")); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("directory path errors", func(t *testing.T) {
		cfg := NewConfig()
		if err := cfg.LoadWithMigration(tmpDir); err == nil {
			t.Error("expected error for directory path")
		}
	})

	t.Run("v0 migrates to current", func(t *testing.T) {
		path := filepath.Join(tmpDir, "v0.json")
		v0Json := `{
			"listen": "192.168.1.132:80",
			"forward": "192.168.1.104:80",
			"url_prefix": "/api/",
			"forwarder": {"connect_timeout_ms": 0, "read_timeout_ms": 0}
		}`
		os.WriteFile(path, []byte(v0Json), 0644)

		cfg := NewConfig()
		if err := cfg.LoadWithMigration(path); err != nil {
			t.Fatalf("LoadWithMigration failed: %v", err)
		}

		if cfg.Version != CurrentConfigVersion {
			t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
		}
		if len(cfg.Filter.URLPrefixes) != 1 || cfg.Filter.URLPrefixes[0] != "/api/" {
			t.Errorf("url_prefix not migrated: %v", cfg.Filter.URLPrefixes)
		}
		if cfg.LegacyURLPrefix != "" {
			t.Errorf("legacy field should be cleared")
		}
		if cfg.Forwarder.ReadTimeoutMs != DefaultConfig.Forwarder.ReadTimeoutMs {
			t.Errorf("read timeout not defaulted: %d", cfg.Forwarder.ReadTimeoutMs)
		}
	})

	t.Run("current version skips migration", func(t *testing.T) {
		path := filepath.Join(tmpDir, "current.json")
		cfg := NewConfig()
		cfg.Forwarder.ReadTimeoutMs = 1234
		cfg.SaveToFile(path)

		loaded := NewConfig()
		if err := loaded.LoadWithMigration(path); err != nil {
			t.Fatalf("LoadWithMigration failed: %v", err)
		}
		if loaded.Version != CurrentConfigVersion {
			t.Errorf("version should remain %d", CurrentConfigVersion)
		}
		if loaded.Forwarder.ReadTimeoutMs != 1234 {
			t.Errorf("explicit value overwritten: %d", loaded.Forwarder.ReadTimeoutMs)
		}
	})
}

func TestApplyMigrations(t *testing.T) {
	t.Run("v0 to v1 does not duplicate prefixes", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Filter.URLPrefixes = []string{"/api/"}
		cfg.LegacyURLPrefix = "/api/"

		if err := cfg.applyMigrations(0); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
		if len(cfg.Filter.URLPrefixes) != 1 {
			t.Errorf("prefix duplicated: %v", cfg.Filter.URLPrefixes)
		}
	})
}
