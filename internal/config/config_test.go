package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community stack %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Reminders.DedupeWindow != 24*time.Hour {
		t.Errorf("expected 24h dedupe window, got %v", cfg.Reminders.DedupeWindow)
	}
	if cfg.Timezone != "Asia/Kolkata" {
		t.Errorf("expected Asia/Kolkata, got %s", cfg.Timezone)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VASOOL_SERVER_PORT", "9090")
	t.Setenv("VASOOL_REPOSITORY_SQLITE_PATH", "/tmp/books.db")
	t.Setenv("VASOOL_REMINDERS_SWEEP_INTERVAL", "15m")
	t.Setenv("VASOOL_REMINDERS_TENANTS", "acme,globex")
	t.Setenv("VASOOL_DEBUG", "true")

	cfg, err := Load(Options{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/books.db" {
		t.Errorf("expected sqlite path override, got %s", cfg.Repository.SQLitePath)
	}
	if cfg.Reminders.SweepInterval != 15*time.Minute {
		t.Errorf("expected 15m sweep interval, got %v", cfg.Reminders.SweepInterval)
	}
	if len(cfg.Reminders.Tenants) != 2 || cfg.Reminders.Tenants[1] != "globex" {
		t.Errorf("expected two tenants, got %v", cfg.Reminders.Tenants)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Logging.Level)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("VASOOL_TIER", "pro")

	cfg, err := Load(Options{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected pro stack %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if !cfg.Cache.EnableTwoPhase {
		t.Error("expected two-phase cache for pro tier")
	}
}

func TestLoadFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "vasool.yaml")
	yaml := "timezone: UTC\nserver:\n  port: 7000\nreminders:\n  dedupe_window: 12h\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("VASOOL_SERVER_PORT=7100\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("VASOOL_SERVER_PORT") })

	cfg, err := Load(Options{ConfigFile: configPath, EnvFiles: []string{envPath}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Timezone != "UTC" {
		t.Errorf("expected timezone from file, got %s", cfg.Timezone)
	}
	if cfg.Reminders.DedupeWindow != 12*time.Hour {
		t.Errorf("expected 12h from file, got %v", cfg.Reminders.DedupeWindow)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("expected .env to override the file, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	cfg, err := Load(Options{
		ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"),
		EnvFiles:   []string{filepath.Join(t.TempDir(), "missing.env")},
	})
	if err != nil {
		t.Fatalf("missing config file should not fail: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestLoadInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(Options{ConfigFile: path, EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}}); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
