// Package config loads and validates run configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FEEDDIGEST_FETCH_CONCURRENCY.
const EnvPrefix = "FEEDDIGEST"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Storage providers.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// State providers.
const (
	StateStorage  = "storage"
	StatePostgres = "postgres"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Storage StorageConfig `mapstructure:"storage"`
	State   StateConfig   `mapstructure:"state"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// FetchConfig governs the fan-out and the HTTP transport.
type FetchConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	UserAgent    string        `mapstructure:"user_agent"`
	ProxyURL     string        `mapstructure:"proxy_url"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
	PerHostBurst int           `mapstructure:"per_host_burst"`
}

// FilterConfig controls the recency window and seen-store retention.
type FilterConfig struct {
	WindowHours   int `mapstructure:"window_hours"`
	RetentionDays int `mapstructure:"retention_days"`
}

// PathsConfig names the input list and the documents a run reads and writes.
type PathsConfig struct {
	Sources       string `mapstructure:"sources"`
	RawItems      string `mapstructure:"raw_items"`
	FilteredItems string `mapstructure:"filtered_items"`
	Health        string `mapstructure:"health"`
	Seen          string `mapstructure:"seen"`
}

// StorageConfig selects where artifacts and state documents live.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// StateConfig selects the state repository backend.
type StateConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	HealthTable string `mapstructure:"health_table"`
	SeenTable   string `mapstructure:"seen_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether filtered output should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// MetricsConfig controls batch metrics export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("fetch.concurrency", 10)
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.retry_delay", 2*time.Second)
	v.SetDefault("fetch.user_agent", "feeddigest/1.0")
	v.SetDefault("fetch.proxy_url", "")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.per_host_rps", 0.0)
	v.SetDefault("fetch.per_host_burst", 1)
	v.SetDefault("filter.window_hours", 24)
	v.SetDefault("filter.retention_days", 7)
	v.SetDefault("paths.sources", "config/feeds.json")
	v.SetDefault("paths.raw_items", "raw-items.json")
	v.SetDefault("paths.filtered_items", "filtered-items.json")
	v.SetDefault("paths.health", "feed-health.json")
	v.SetDefault("paths.seen", "seen-guids.json")
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("state.provider", StateStorage)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.health_table", "feed_health")
	v.SetDefault("db.seen_table", "seen_items")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.Concurrency <= 0 {
		return invalid("fetch.concurrency must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return invalid("fetch.timeout must be > 0")
	}
	if c.Fetch.Retries <= 0 {
		return invalid("fetch.retries must be > 0")
	}
	if c.Fetch.RetryDelay < 0 {
		return invalid("fetch.retry_delay must be >= 0")
	}
	if c.Fetch.PerHostRPS < 0 {
		return invalid("fetch.per_host_rps must be >= 0")
	}
	if c.Fetch.ProxyURL != "" {
		if u, err := url.Parse(c.Fetch.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("fetch.proxy_url %q is not an absolute URL", c.Fetch.ProxyURL)
		}
	}
	if c.Filter.WindowHours <= 0 {
		return invalid("filter.window_hours must be > 0")
	}
	if c.Filter.RetentionDays <= 0 {
		return invalid("filter.retention_days must be > 0")
	}
	if c.Paths.Sources == "" || c.Paths.RawItems == "" || c.Paths.FilteredItems == "" {
		return invalid("paths.sources, paths.raw_items and paths.filtered_items are required")
	}
	switch c.Storage.Provider {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return invalid("storage.base_dir is required for the local provider")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return invalid("storage.gcs_bucket is required for the gcs provider")
		}
	case StorageMemory:
	default:
		return invalid("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.State.Provider {
	case StateStorage:
		if c.Paths.Health == "" || c.Paths.Seen == "" {
			return invalid("paths.health and paths.seen are required for the storage state provider")
		}
	case StatePostgres:
		if c.DB.DSN == "" {
			return invalid("db.dsn is required for the postgres state provider")
		}
	default:
		return invalid("unknown state.provider %q", c.State.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return invalid("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
