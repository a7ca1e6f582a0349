// Package config loads and validates blogscan configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Render    RenderConfig    `mapstructure:"render"`
	History   HistoryConfig   `mapstructure:"history"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ProgressRetention is how long finished batches stay queryable.
	ProgressRetention time.Duration `mapstructure:"progress_retention"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig tunes the retrying fetcher and per-host politeness.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	HostRPS       float64       `mapstructure:"host_rps"`
	HostBurst     int           `mapstructure:"host_burst"`
}

// DiscoveryConfig tunes the discovery engine.
type DiscoveryConfig struct {
	SitemapConcurrency int `mapstructure:"sitemap_concurrency"`
	MaxSitemapDepth    int `mapstructure:"max_sitemap_depth"`
	DefaultLimit       int `mapstructure:"default_limit"`
}

// BatchConfig tunes the batch scheduler.
type BatchConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	PerItemTimeout time.Duration `mapstructure:"per_item_timeout"`
}

// MetricsConfig toggles the Prometheus progress sink.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RenderConfig enables the headless Chrome fallback for JavaScript shells.
type RenderConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	BodyThreshold     int           `mapstructure:"body_threshold"`
}

// HistoryConfig selects where finished batch summaries are persisted.
// Provider is one of none, memory, sqlite or postgres.
type HistoryConfig struct {
	Provider    string        `mapstructure:"provider"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	DSN         string        `mapstructure:"dsn"`
	Table       string        `mapstructure:"table"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where full batch reports are written.
// Provider is one of none, memory, local or gcs.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects where batch completion events are published.
// Provider is one of none, memory or pubsub.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOGSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("server.progress_retention", 15*time.Minute)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("fetch.user_agent", "blogscan/1.0 (+https://github.com/JakeFAU/blogscan)")
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base", time.Second)
	v.SetDefault("fetch.backoff_max", 5*time.Second)
	v.SetDefault("fetch.max_retry_after", 30*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.host_rps", 5.0)
	v.SetDefault("fetch.host_burst", 5)
	v.SetDefault("discovery.sitemap_concurrency", 5)
	v.SetDefault("discovery.max_sitemap_depth", 5)
	v.SetDefault("discovery.default_limit", 100)
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.per_item_timeout", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.navigation_timeout", 45*time.Second)
	v.SetDefault("render.body_threshold", 2048)
	v.SetDefault("history.provider", "none")
	v.SetDefault("history.sqlite_path", "data/blogscan.db")
	v.SetDefault("history.table", "batch_runs")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "data/reports")
	v.SetDefault("archive.prefix", "batches")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.topic", "blogscan-batches")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be > 0"))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("fetch.max_attempts must be > 0"))
	}
	if c.Fetch.BackoffBase <= 0 || c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		errs = append(errs, errors.New("fetch.backoff_max must be >= fetch.backoff_base > 0"))
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("fetch.max_body_bytes must be > 0"))
	}
	if c.Fetch.HostRPS < 0 {
		errs = append(errs, errors.New("fetch.host_rps must be >= 0"))
	}
	if c.Discovery.SitemapConcurrency <= 0 {
		errs = append(errs, errors.New("discovery.sitemap_concurrency must be > 0"))
	}
	if c.Discovery.MaxSitemapDepth <= 0 {
		errs = append(errs, errors.New("discovery.max_sitemap_depth must be > 0"))
	}
	if c.Discovery.DefaultLimit <= 0 {
		errs = append(errs, errors.New("discovery.default_limit must be > 0"))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, errors.New("batch.concurrency must be > 0"))
	}
	if c.Batch.PerItemTimeout <= 0 {
		errs = append(errs, errors.New("batch.per_item_timeout must be > 0"))
	}
	if c.Render.Enabled && c.Render.MaxParallel < 0 {
		errs = append(errs, errors.New("render.max_parallel must be >= 0"))
	}
	switch c.History.Provider {
	case "", "none", "memory":
	case "sqlite":
		if c.History.SQLitePath == "" {
			errs = append(errs, errors.New("history.sqlite_path is required for the sqlite provider"))
		}
	case "postgres":
		if c.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required for the postgres provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history.provider %q", c.History.Provider))
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local provider"))
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive.provider %q", c.Archive.Provider))
	}
	switch c.Notify.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			errs = append(errs, errors.New("notify.project_id and notify.topic are required for the pubsub provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.provider %q", c.Notify.Provider))
	}
	return errors.Join(errs...)
}
