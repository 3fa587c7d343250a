package config

import "testing"

func TestNewConfig_DeepCopy(t *testing.T) {
	cfg1 := NewConfig()
	cfg2 := NewConfig()

	cfg1.Filter.URLPrefixes = append(cfg1.Filter.URLPrefixes, "/api")
	cfg1.Filter.Clients = append(cfg1.Filter.Clients, "10.0.0.0/8")

	if len(cfg2.Filter.URLPrefixes) != 0 {
		t.Error("URLPrefixes leaked between instances")
	}
	if len(cfg2.Filter.Clients) != 0 {
		t.Error("Clients leaked between instances")
	}
	if len(DefaultConfig.Filter.URLPrefixes) != 0 {
		t.Error("DefaultConfig was modified through a copy")
	}
}

func TestDurations(t *testing.T) {
	cfg := NewConfig()
	if got := cfg.InactivityTimeout().Seconds(); got != 10 {
		t.Errorf("expected 10s inactivity timeout, got %v", got)
	}
	if got := cfg.ConnectTimeout().Milliseconds(); got != 2000 {
		t.Errorf("expected 2000ms connect timeout, got %v", got)
	}
	if got := cfg.ReadTimeout().Milliseconds(); got != 5000 {
		t.Errorf("expected 5000ms read timeout, got %v", got)
	}
	if got := cfg.ProbeInterval().Seconds(); got != 30 {
		t.Errorf("expected 30s probe interval, got %v", got)
	}
	if cfg.OutputDir() != cfg.Capture.Dir {
		t.Errorf("output dir should default to capture dir")
	}
	cfg.Output.Dir = "/srv/out"
	if cfg.OutputDir() != "/srv/out" {
		t.Errorf("explicit output dir ignored")
	}
}

func TestNewConfigStampsCurrentVersion(t *testing.T) {
	cfg := NewConfig()
	if cfg.Version != CurrentConfigVersion || CurrentConfigVersion != len(migrationRegistry) {
		t.Errorf("version = %d, current = %d", cfg.Version, CurrentConfigVersion)
	}

	// Migrations fill from DefaultConfig, so it must stay usable as a source.
	old := Config{}
	if err := old.applyMigrations(0); err != nil {
		t.Fatal(err)
	}
	if old.Forwarder.ConnectTimeoutMs != DefaultConfig.Forwarder.ConnectTimeoutMs {
		t.Errorf("connect timeout = %d", old.Forwarder.ConnectTimeoutMs)
	}
}
