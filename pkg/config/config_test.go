package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_MatchDocumentedFallbacks(t *testing.T) {
	cfg := Defaults()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.CacheSize != 256 {
		t.Errorf("CacheSize = %d, want 256", cfg.CacheSize)
	}
	if cfg.DefaultErrorTolerance != 0.05 {
		t.Errorf("DefaultErrorTolerance = %v, want 0.05", cfg.DefaultErrorTolerance)
	}
	if cfg.Debug {
		t.Error("Debug = true, want false")
	}
}

func TestLoad_NoConfigFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
	if cfg.DBPath != "aqe.sqlite" {
		t.Errorf("DBPath = %q, want default aqe.sqlite", cfg.DBPath)
	}
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AQE_PORT", "9090")
	t.Setenv("AQE_DB_PATH", "/tmp/custom.sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from AQE_PORT", cfg.Port)
	}
	if cfg.DBPath != "/tmp/custom.sqlite" {
		t.Errorf("DBPath = %q, want /tmp/custom.sqlite from AQE_DB_PATH", cfg.DBPath)
	}
}

func TestLoad_ExplicitConfigFileIsRead(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	contents := "port: 7000\nhost: 127.0.0.1\ncache_size: 64\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 from config file", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1 from config file", cfg.Host)
	}
	if cfg.CacheSize != 64 {
		t.Errorf("CacheSize = %d, want 64 from config file", cfg.CacheSize)
	}
}

func TestLoad_EnvironmentOverridesExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("port: 7000\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("AQE_PORT", "9999")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999 (env beats config file)", cfg.Port)
	}
}
