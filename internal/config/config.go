package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Page renderers.
const (
	RendererHTTP = "http"
	RendererRod  = "rod"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	BadgerDBPath string `mapstructure:"BADGERDB_PATH"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`

	ImageCacheDir      string `mapstructure:"IMAGE_CACHE_DIR"`
	ImageMemoryEntries int    `mapstructure:"IMAGE_MEMORY_ENTRIES"`

	UpdateInterval time.Duration `mapstructure:"UPDATE_INTERVAL"`
	HTTPTimeout    time.Duration `mapstructure:"HTTP_TIMEOUT"`
	HTTPUserAgent  string        `mapstructure:"HTTP_USER_AGENT"`
	MaxBodyBytes   int64         `mapstructure:"MAX_BODY_BYTES"`
	RateLimit      float64       `mapstructure:"RATE_LIMIT"`
	RateBurst      int           `mapstructure:"RATE_BURST"`
	PageRenderer   string        `mapstructure:"PAGE_RENDERER"`
	EmbedEndpoint  string        `mapstructure:"EMBED_ENDPOINT"`
	VideoHosts     []string      `mapstructure:"VIDEO_HOSTS"`

	// GCSchedule is a cron expression for badger value-log GC in serve mode. Empty disables it.
	GCSchedule string `mapstructure:"GC_SCHEDULE"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// TelegramBotToken is only needed by serve.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_DRIVER", DriverBadger)
	v.SetDefault("BADGERDB_PATH", "./badger_data")
	v.SetDefault("SQLITE_PATH", "./unfurl.db")
	v.SetDefault("IMAGE_CACHE_DIR", "./image_cache")
	v.SetDefault("IMAGE_MEMORY_ENTRIES", 30)
	v.SetDefault("UPDATE_INTERVAL", "240h")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("HTTP_USER_AGENT", "unfurl/1.0 (+link preview)")
	v.SetDefault("MAX_BODY_BYTES", 2<<20)
	v.SetDefault("RATE_LIMIT", 0)
	v.SetDefault("RATE_BURST", 1)
	v.SetDefault("PAGE_RENDERER", RendererHTTP)
	v.SetDefault("EMBED_ENDPOINT", "https://www.youtube.com/oembed")
	v.SetDefault("VIDEO_HOSTS", []string{"youtube.com", "youtu.be"})
	v.SetDefault("GC_SCHEDULE", "@every 1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
}

// LoadConfig reads config.yaml from path, then environment variables on top.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks enumerated and numeric settings.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverBadger, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverBadger, DriverSQLite, c.StoreDriver)
	}
	switch c.PageRenderer {
	case RendererHTTP, RendererRod:
	default:
		return fmt.Errorf("PAGE_RENDERER must be %q or %q, got %q", RendererHTTP, RendererRod, c.PageRenderer)
	}
	if c.ImageMemoryEntries <= 0 {
		return fmt.Errorf("IMAGE_MEMORY_ENTRIES must be positive, got %d", c.ImageMemoryEntries)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL must be positive, got %s", c.UpdateInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative, got %v", c.RateLimit)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
