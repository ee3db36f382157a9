package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kneolab/kneobot/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "123:abc")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want info", cfg.Logger.Level)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Worker.StopTimeout != 5*time.Second {
		t.Errorf("Worker.StopTimeout = %v, want 5s", cfg.Worker.StopTimeout)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q, want env value", cfg.Telegram.Token)
	}
	if cfg.Messages.Watermark == "" {
		t.Error("Messages.Watermark default is empty")
	}
	task, ok := cfg.Scheduler.Tasks["sql_maintenance"]
	if !ok || !task.Enabled || task.Schedule == "" {
		t.Errorf("sql_maintenance task default = %+v, %v", task, ok)
	}
}

func TestLoadConfig_MissingToken(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")

	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig succeeded without a token")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "123:abc")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("logger:\n  level: debug\n  json: true\nserver:\n  port: 9100\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logger.Level != "debug" || !cfg.Logger.JSON {
		t.Errorf("Logger = %+v, want debug/json", cfg.Logger)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
}

func TestLoadConfig_RejectsBadLevel(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BOT_LOGGER_LEVEL", "loud")

	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig accepted an unknown log level")
	}
}
