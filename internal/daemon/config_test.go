package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8470 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8470)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true by default")
	}
	if cfg.Inactivity.RunAt != "03:00" {
		t.Errorf("Inactivity.RunAt = %q, want %q", cfg.Inactivity.RunAt, "03:00")
	}
	if cfg.Inactivity.Workers != 4 {
		t.Errorf("Inactivity.Workers = %d, want %d", cfg.Inactivity.Workers, 4)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[api]
port = 9000

[log]
level = "debug"
format = "console"

[inactivity]
run_at = "01:30"
timezone = "UTC"
workers = 8
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AFFNET_HOME", dir)
	t.Setenv("AFFNET_METRICS", "false")
	t.Setenv("AFFNET_HOST", "0.0.0.0")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.API.Host != "0.0.0.0" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.Enabled {
		t.Error("AFFNET_METRICS=false should disable metrics")
	}
	if cfg.Inactivity.RunAt != "01:30" || cfg.Inactivity.Workers != 8 {
		t.Errorf("inactivity = %+v", cfg.Inactivity)
	}
	if !cfg.Inactivity.Schedule {
		t.Error("unset keys keep their defaults")
	}
	if cfg.Database.Dir != dir {
		t.Errorf("Database.Dir = %q, want AFFNET_HOME %q", cfg.Database.Dir, dir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("AFFNET_HOME", t.TempDir())
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("port = %d", cfg.API.Port)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "eighty"}},
		{"port range", map[string]string{"AFFNET_PORT": "70000"}},
		{"bad run_at", map[string]string{"AFFNET_INACTIVITY_RUN_AT": "3am"}},
		{"bad timezone", map[string]string{"AFFNET_INACTIVITY_TIMEZONE": "Mars/Olympus"}},
		{"bad metrics flag", map[string]string{"AFFNET_METRICS": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AFFNET_HOME", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNew_OpensEmptyHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Dir = t.TempDir()
	cfg.Log.Level = "error"

	d, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Close()

	if _, err := d.Service.CurrentConfig(); err == nil {
		t.Error("fresh database should have no configuration")
	}
	if _, err := os.Stat(filepath.Join(cfg.Database.Dir, "affnet.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
