package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DBPath  string `envconfig:"DB_PATH" default:"orchestrator.db"`
	TempDir string `envconfig:"TEMP_DIR" default:"/tmp/media-downloads"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	// Remote streaming host reached over SSH. Relay processes run detached
	// there and finished downloads are copied to it.
	Remote struct {
		Addr           string        `split_words:"true" default:"127.0.0.1:22"`
		User           string        `split_words:"true" default:"streaming"`
		Password       string        `split_words:"true"`
		PrivateKeyPath string        `split_words:"true"`
		CommandTimeout time.Duration `split_words:"true" default:"15s"`
		PathRoot       string        `split_words:"true" default:"/home/streaming"`
	}

	Download struct {
		MetadataTimeout time.Duration `split_words:"true" default:"30s"`
		OutputTimeout   time.Duration `split_words:"true" default:"120s"`
		QuotaFloorMB    int64         `split_words:"true" default:"100"`
	}

	Relay struct {
		KillSettleDelay    time.Duration `split_words:"true" default:"2s"`
		StabilizationDelay time.Duration `split_words:"true" default:"10s"`
		ProbeTimeout       time.Duration `split_words:"true" default:"10s"`
	}

	Schedule struct {
		TickInterval time.Duration `split_words:"true" default:"60s"`
	}

	Sweep struct {
		Interval time.Duration `split_words:"true" default:"5m"`
		MaxAge   time.Duration `split_words:"true" default:"1h"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"media_orchestrator"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:3001"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
