package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`
	// AllowedOrigins lists browser origins allowed to open subscriber sockets.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	TwitchClientID       string `env:"TWITCH_CLIENT_ID"`
	TwitchAccessToken    string `env:"TWITCH_ACCESS_TOKEN"`
	TwitchBroadcasterIDs string `env:"TWITCH_BROADCASTER_IDS"`
	EventSubURL          string `env:"EVENTSUB_URL" default:"wss://eventsub.wss.twitch.tv/ws"`

	ExtensionClientID string `env:"EXTENSION_CLIENT_ID"`
	ExtensionSecret   string `env:"EXTENSION_SECRET"`
	ExtensionOwnerID  string `env:"EXTENSION_OWNER_ID"`

	IngestQueueSize         int           `env:"INGEST_QUEUE_SIZE" default:"256"`
	DedupCapacity           int           `env:"DEDUP_CAPACITY" default:"1024"`
	MaxSubscribersPerTenant int           `env:"MAX_SUBSCRIBERS_PER_TENANT" default:"200"`
	TickInterval            time.Duration `env:"TICK_INTERVAL" default:"1s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BroadcasterIDs splits TWITCH_BROADCASTER_IDS, dropping blanks and duplicates.
func (c *Config) BroadcasterIDs() []string {
	return splitList(c.TwitchBroadcasterIDs)
}

func splitList(raw string) []string {
	var items []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	return items
}

func (c *Config) AllowedOriginList() []string {
	return splitList(c.AllowedOrigins)
}

func (c *Config) IngestionEnabled() bool {
	return len(c.BroadcasterIDs()) > 0
}

func (c *Config) BridgeEnabled() bool {
	return c.ExtensionClientID != "" && c.ExtensionSecret != "" && c.ExtensionOwnerID != ""
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":  cfg.DatabaseURL,
		"ADMIN_API_KEY": cfg.AdminAPIKey,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.AdminAPIKey) < 16 {
		return errors.New("ADMIN_API_KEY must be at least 16 characters")
	}

	if cfg.IsProduction() {
		if err := requireTLS(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	if cfg.IngestionEnabled() && (cfg.TwitchClientID == "" || cfg.TwitchAccessToken == "") {
		return errors.New("TWITCH_CLIENT_ID and TWITCH_ACCESS_TOKEN are required when TWITCH_BROADCASTER_IDS is set")
	}

	if cfg.ExtensionSecret != "" {
		if _, err := base64.StdEncoding.DecodeString(cfg.ExtensionSecret); err != nil {
			return fmt.Errorf("EXTENSION_SECRET must be valid base64: %w", err)
		}
	}

	if cfg.IngestQueueSize <= 0 {
		return errors.New("INGEST_QUEUE_SIZE must be positive")
	}
	if cfg.DedupCapacity <= 0 {
		return errors.New("DEDUP_CAPACITY must be positive")
	}
	if cfg.MaxSubscribersPerTenant <= 0 {
		return errors.New("MAX_SUBSCRIBERS_PER_TENANT must be positive")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("TICK_INTERVAL must be positive")
	}

	return nil
}

func requireTLS(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	switch mode := strings.ToLower(u.Query().Get("sslmode")); mode {
	case "disable", "allow":
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
