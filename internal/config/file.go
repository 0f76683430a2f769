package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port   int    `mapstructure:"port" yaml:"port"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Dev    bool   `mapstructure:"dev" yaml:"dev"`
}

// DBConfig selects the store backend.
type DBConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// URL is the postgres DSN, or an explicit sqlite file path.
	URL string `mapstructure:"url" yaml:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
}

// WebhookConfig is a generic JSON alert endpoint, posted alongside Slack.
type WebhookConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type NotifyConfig struct {
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
}

type OtelConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Config is the contents of <home>/config.yaml.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	DB      DBConfig      `mapstructure:"db" yaml:"db"`
	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats"`
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Otel    OtelConfig    `mapstructure:"otel" yaml:"otel"`
}

// DefaultPort is the server port when none is configured.
const DefaultPort = 3548

// Path returns the config file location under home.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.dev", false)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "printflow.tasks")
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("slack.channel", "")
	v.SetDefault("webhook.url", "")
	v.SetDefault("notify.parallelism", 8)
	v.SetDefault("otel.enabled", true)

	// PRINTFLOW_SERVER_PORT overrides server.port, and so on.
	v.SetEnvPrefix("PRINTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads <home>/config.yaml. A missing file yields the defaults; environment
// variables override both. DATABASE_URL and SLACK_WEBHOOK_URL fill db.url and
// slack.webhook_url when those are unset.
func Load(home string) (*Config, error) {
	v := newViper()
	path := Path(home)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.DB.URL == "" && cfg.DB.Driver == "postgres" {
		cfg.DB.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Slack.WebhookURL == "" {
		cfg.Slack.WebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db.driver %q (want sqlite or postgres)", c.DB.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Notify.Parallelism < 0 {
		return fmt.Errorf("notify.parallelism must not be negative")
	}
	return nil
}

// Save writes cfg to <home>/config.yaml, creating home if needed.
func Save(home string, cfg *Config) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("creating home %s: %w", home, err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("server", map[string]any{"port": cfg.Server.Port, "api_key": cfg.Server.APIKey, "dev": cfg.Server.Dev})
	v.Set("db", map[string]any{"driver": cfg.DB.Driver, "url": cfg.DB.URL})
	v.Set("nats", map[string]any{"url": cfg.NATS.URL, "subject": cfg.NATS.Subject})
	v.Set("slack", map[string]any{"webhook_url": cfg.Slack.WebhookURL, "channel": cfg.Slack.Channel})
	v.Set("webhook", map[string]any{"url": cfg.Webhook.URL})
	v.Set("notify", map[string]any{"parallelism": cfg.Notify.Parallelism})
	v.Set("otel", map[string]any{"enabled": cfg.Otel.Enabled})
	path := Path(home)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
