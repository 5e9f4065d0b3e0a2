// Package config loads knolbot settings from flags, an optional YAML file and
// KNOLBOT_ environment variables, in that order of increasing precedence, with
// explicitly set flags winning over everything.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolbot/internal/review"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "KNOLBOT_"

// Config holds all application configuration.
type Config struct {
	Telegram TelegramConfig `koanf:"telegram"`
	Bot      BotConfig      `koanf:"bot"`
	Storage  StorageConfig  `koanf:"storage"`
	Import   ImportConfig   `koanf:"import"`
	HTTP     HTTPConfig     `koanf:"http"`
	Log      LogConfig      `koanf:"log"`
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token         string        `koanf:"token" validate:"required"`
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gte=0"`
	// ChatID, when set, is quizzed before any message arrives.
	ChatID int64 `koanf:"chat_id"`
}

// BotConfig holds review loop settings.
type BotConfig struct {
	Commands           []string      `koanf:"commands" validate:"required,dive,startswith=/"`
	PollInterval       time.Duration `koanf:"poll_interval" validate:"gt=0"`
	MaxAttempts        int           `koanf:"max_attempts" validate:"min=1"`
	PromotionThreshold int           `koanf:"promotion_threshold" validate:"min=1"`
	QuizMedia          bool          `koanf:"quiz_media"`
}

// StorageConfig holds the item store location.
type StorageConfig struct {
	DSN string `koanf:"dsn" validate:"required"`
}

// ImportConfig holds directories used by deck imports.
type ImportConfig struct {
	DownloadDir string `koanf:"download_dir" validate:"required"`
	ReposDir    string `koanf:"repos_dir" validate:"required"`
}

// HTTPConfig holds the status server settings. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Flags declares every setting as a flag whose name is its config key.
func Flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("knolbot", pflag.ContinueOnError)
	f.String("config", "", "path to a YAML config file")

	f.String("telegram.token", "", "Telegram Bot API token")
	f.String("telegram.base_url", "https://api.telegram.org", "Telegram Bot API base URL")
	f.Duration("telegram.timeout", 10*time.Second, "timeout for each Bot API request")
	f.Int("telegram.retry_attempts", 3, "retries for transient Bot API failures")
	f.Duration("telegram.retry_delay", time.Second, "initial delay between retries")
	f.Int64("telegram.chat_id", 0, "conversation to quiz before any message arrives")

	f.StringSlice("bot.commands", review.DefaultCommands, "enabled command tokens")
	f.Duration("bot.poll_interval", time.Second, "delay between polling iterations")
	f.Int("bot.max_attempts", 3, "wrong answers allowed before a question is abandoned")
	f.Int("bot.promotion_threshold", 5, "promotion/demotion threshold T")
	f.Bool("bot.quiz_media", false, "quiz media items on their caption")

	f.String("storage.dsn", "knolbot.db", "path to the SQLite database file")
	f.String("import.download_dir", "download", "directory for downloaded files")
	f.String("import.repos_dir", "repos", "directory for cloned deck repositories")
	f.String("http.addr", "", "status server listen address, empty to disable")

	f.String("log.level", "info", "log level: debug, info, warn, error")
	f.String("log.format", "text", "log format: text or json")
	return f
}

// Load parses args and merges every configuration source.
func Load(args []string) (*Config, error) {
	f := Flags()
	if err := f.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	k := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Flag defaults fill keys no other source set; changed flags override.
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	k.Delete("config")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps KNOLBOT_BOT_POLL_INTERVAL to bot.poll_interval. Only the first
// underscore separates the section; the rest belong to the key.
func envKey(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if key == "bot.commands" {
		return key, strings.Fields(strings.ReplaceAll(value, ",", " "))
	}
	return key, value
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and that each command token is known.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, cmd := range c.Bot.Commands {
		if !review.IsBuiltin(cmd) {
			return fmt.Errorf("invalid config: bot.commands: %w: %s", review.ErrUnknownCommand, cmd)
		}
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
