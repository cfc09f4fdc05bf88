// Package config loads the mirror's TOML configuration file, falling back to
// writing a template and exiting fatally when none is present.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration document, see spec §6.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Osu       OsuConfig       `toml:"osu"`
	Crawler   CrawlerConfig   `toml:"crawler"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
}

type StorageConfig struct {
	Backend string             `toml:"backend"` // "local" | "s3"
	Local   LocalStorageConfig `toml:"local"`
	S3      S3StorageConfig    `toml:"s3"`
}

type LocalStorageConfig struct {
	Path string `toml:"path"`
}

type S3StorageConfig struct {
	Endpoint string `toml:"endpoint"`
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Prefix   string `toml:"prefix"`
}

type OsuConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type CrawlerConfig struct {
	Enabled             bool `toml:"enabled"`
	SyncIntervalSeconds int  `toml:"sync_interval_seconds"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	DownloadsPer10Min int `toml:"downloads_per_10min"`
}

// defaultConfig mirrors original_source/src/config.rs's Default impl.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			URL:            "sqlite:///var/lib/osu-mirror/mirror.db",
			MaxConnections: 20,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorageConfig{Path: "./data/beatmaps"},
			S3:      S3StorageConfig{Prefix: "beatmaps"},
		},
		Osu: OsuConfig{},
		Crawler: CrawlerConfig{
			Enabled:             true,
			SyncIntervalSeconds: 300,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 200,
			DownloadsPer10Min: 80,
		},
	}
}

// applyDefaults replaces zero-valued numeric and string fields with their
// defaults, so an explicit 0 or "" in the file behaves like an omitted key.
func (c *Config) applyDefaults() {
	d := defaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = d.Database.MaxConnections
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.S3.Prefix == "" {
		c.Storage.S3.Prefix = d.Storage.S3.Prefix
	}
	if c.Crawler.SyncIntervalSeconds == 0 {
		c.Crawler.SyncIntervalSeconds = d.Crawler.SyncIntervalSeconds
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = d.RateLimit.RequestsPerMinute
	}
	if c.RateLimit.DownloadsPer10Min == 0 {
		c.RateLimit.DownloadsPer10Min = d.RateLimit.DownloadsPer10Min
	}
}

// ErrConfigMissing is returned (unwrapped) when no config file exists; the
// caller is expected to treat this as fatal, per spec §6.
type ErrConfigMissing struct {
	Path string
}

func (e ErrConfigMissing) Error() string {
	return fmt.Sprintf("config: %s not found", e.Path)
}

// Load reads Config from CONFIG_PATH (default "config.toml"). If the file is
// absent, it writes the default configuration to config.example.toml and returns
// ErrConfigMissing; the caller must treat this as a fatal startup error.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := writeExample(); writeErr != nil {
				return nil, fmt.Errorf("config: write config.example.toml: %w", writeErr)
			}
			return nil, ErrConfigMissing{Path: path}
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode over the defaults so keys the file omits (including the
	// crawler.enabled bool) keep their default values.
	c := defaultConfig()
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func writeExample() error {
	d := defaultConfig()
	out, err := toml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile("config.example.toml", out, 0o644)
}
