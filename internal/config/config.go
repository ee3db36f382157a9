// Package config manages application configuration from default values,
// an optional config.yaml file, and BOT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components of the
// constructor bot: logging, persistence, the constructor's own Telegram
// identity, the managed-bot supervisor, the health endpoint, and the
// maintenance scheduler.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds the constructor bot's own upstream identity.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// ServerConfig configures the liveness HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`
}

// WorkerConfig tunes managed-bot worker lifecycle behavior.
type WorkerConfig struct {
	StopTimeout   time.Duration `mapstructure:"stop_timeout"   validate:"required,min=1s,max=1m"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" validate:"required,min=1s,max=1m"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig holds the scheduled task table, keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds user-visible message strings. Every failure an end
// user of a managed bot can see comes from here, so deployments can rephrase
// them without rebuilding.
type MessagesConfig struct {
	Watermark          string `mapstructure:"watermark"            validate:"required"`
	StartSceneMissing  string `mapstructure:"start_scene_missing"  validate:"required"`
	SceneNotFound      string `mapstructure:"scene_not_found"      validate:"required"`
	EmptyScene         string `mapstructure:"empty_scene"          validate:"required"`
	UnknownButton      string `mapstructure:"unknown_button"       validate:"required"`
	GeneralError       string `mapstructure:"general_error"        validate:"required"`
	Welcome            string `mapstructure:"welcome"              validate:"required"`
	InvalidToken       string `mapstructure:"invalid_token"        validate:"required"`
	InvalidTokenFormat string `mapstructure:"invalid_token_format" validate:"required"`
}

// LoadConfig loads and validates configuration from defaults, the YAML file
// at configPath (optional), and BOT_* environment variables, in increasing
// order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine, env and defaults may be enough.
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "constructor.db")

	// Registered empty so the BOT_TELEGRAM_TOKEN env var is visible to
	// Unmarshal; validation rejects the empty value.
	v.SetDefault("telegram.token", "")

	v.SetDefault("server.port", 8000)

	v.SetDefault("worker.stop_timeout", 5*time.Second)
	v.SetDefault("worker.verify_timeout", 10*time.Second)

	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.worker_resync.enabled", true)
	v.SetDefault("scheduler.tasks.worker_resync.schedule", "0 */5 * * * *")

	v.SetDefault("messages.watermark", "⚒️ This bot was built with @KneoFreeBot")
	v.SetDefault("messages.start_scene_missing", "The start scene is not configured yet.")
	v.SetDefault("messages.scene_not_found", "Scene %q does not exist.")
	v.SetDefault("messages.empty_scene", "This scene has no messages yet.")
	v.SetDefault("messages.unknown_button", "This button is no longer available.")
	v.SetDefault("messages.general_error", "Something went wrong. Please try again later.")
	v.SetDefault("messages.welcome", "👋 Welcome to the bot constructor!")
	v.SetDefault("messages.invalid_token", "That token was rejected by Telegram. Please try again.")
	v.SetDefault("messages.invalid_token_format", "That does not look like a bot token. Please try again.")
}
