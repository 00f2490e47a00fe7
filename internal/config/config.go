package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Recorder   RecorderConfig   `yaml:"recorder" mapstructure:"recorder"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Dashboard  DashboardConfig  `yaml:"dashboard" mapstructure:"dashboard"`
	Resolution ResolutionConfig `yaml:"resolution" mapstructure:"resolution"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RecorderConfig holds external meeting-recorder API settings.
type RecorderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TelegramConfig holds Telegram bot settings for the escalation channel.
type TelegramConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	ChatID      int64  `yaml:"chat_id" mapstructure:"chat_id"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MatchingConfig points at the optional matching rules file. When the path
// is empty the built-in rule defaults apply.
type MatchingConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// EventsConfig configures the resolution-outcome event publisher. An empty
// URL disables publishing.
type EventsConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// DashboardConfig holds the dashboard base URL used to build resolution links.
type DashboardConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResolutionConfig tunes pipeline behavior.
type ResolutionConfig struct {
	// OwnerDomain is the operator's own email domain; participants on it
	// are excluded from deterministic matching.
	OwnerDomain string `yaml:"owner_domain" mapstructure:"owner_domain"`
	// RecheckIntervalMins is the cadence of the stale needs_human
	// re-notify worker. Zero disables it.
	RecheckIntervalMins int `yaml:"recheck_interval_mins" mapstructure:"recheck_interval_mins"`
	// PreviewChars bounds the content preview in escalation messages.
	PreviewChars int `yaml:"preview_chars" mapstructure:"preview_chars"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LINKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "linker.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("recorder.timeout_secs", 15)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout_secs", 8)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 8)
	v.SetDefault("events.exchange", "client-linker")
	v.SetDefault("resolution.recheck_interval_mins", 60)
	v.SetDefault("resolution.preview_chars", 500)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
