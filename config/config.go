// Package config loads the process configuration once at startup. The
// resulting Config is passed by pointer to each component and never mutated.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "BOARDSYNC"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Sync     SyncConfig     `mapstructure:"sync"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Google   GoogleConfig   `mapstructure:"google"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port string `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Bind, s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SyncConfig struct {
	// Enabled runs the poller inside `serve`. The `sync` command ignores it.
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    int           `mapstructure:"poll_interval"` // minutes
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Label           string        `mapstructure:"label"`
	DeadLetterLabel string        `mapstructure:"dead_letter_label"`
	PageSize        int           `mapstructure:"page_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	CloseAttempts   uint          `mapstructure:"close_attempts"`
	CloseRetryDelay time.Duration `mapstructure:"close_retry_delay"`
	IntakeURL       string        `mapstructure:"intake_url"`
	ListTimeout     time.Duration `mapstructure:"list_timeout"`
	ForwardTimeout  time.Duration `mapstructure:"forward_timeout"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout"`

	// ProcessedRetention is how long applied event ids are kept for dedup.
	// Zero keeps them forever.
	ProcessedRetention time.Duration `mapstructure:"processed_retention"`
}

// Interval is the poll period; an unset or non-positive value means 60 minutes.
func (s SyncConfig) Interval() time.Duration {
	if s.PollInterval <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(s.PollInterval) * time.Minute
}

type GitHubConfig struct {
	Owner         string `mapstructure:"owner"`
	Repo          string `mapstructure:"repo"`
	Token         string `mapstructure:"token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// BaseURL points the client at GitHub Enterprise; empty means api.github.com.
	BaseURL string `mapstructure:"base_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type GoogleConfig struct {
	CalendarID     string         `mapstructure:"calendar_id"`
	ServiceAccount map[string]any `mapstructure:"service_account"`
}

// CalendarEnabled reports whether the deadline mirror has enough to run.
func (g GoogleConfig) CalendarEnabled() bool {
	return g.CalendarID != "" && len(g.ServiceAccount) > 0
}

var ErrRelayNotConfigured = errors.New("github.owner, github.repo and github.token are required for sync")

// ValidateRelay checks the settings the poller cannot run without.
func (c *Config) ValidateRelay() error {
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" || c.GitHub.Token == "" {
		return ErrRelayNotConfigured
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind", "127.0.0.1")
	v.SetDefault("server.port", "3000")

	v.SetDefault("database.path", "kanban.db")

	v.SetDefault("log.level", "debug")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.poll_interval", 60)
	v.SetDefault("sync.startup_delay", 10*time.Second)
	v.SetDefault("sync.label", "type:sync")
	v.SetDefault("sync.dead_letter_label", "sync:dead-letter")
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.close_attempts", 3)
	v.SetDefault("sync.close_retry_delay", time.Second)
	v.SetDefault("sync.intake_url", "")
	v.SetDefault("sync.list_timeout", 30*time.Second)
	v.SetDefault("sync.forward_timeout", 30*time.Second)
	v.SetDefault("sync.close_timeout", 30*time.Second)
	v.SetDefault("sync.processed_retention", 30*24*time.Hour)

	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("github.base_url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "boardsync:events")

	v.SetDefault("google.calendar_id", "")
}

// Load reads config.toml from the working directory, or path when given, and
// overlays BOARDSYNC_* environment variables. A missing config.toml in the
// working directory is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Sync.IntakeURL == "" {
		cfg.Sync.IntakeURL = fmt.Sprintf("http://%s/api/sync/apply", net.JoinHostPort("127.0.0.1", cfg.Server.Port))
	}
	return cfg, nil
}
