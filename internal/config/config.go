// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/politecrawler/internal/engine"
	"github.com/JakeFAU/politecrawler/internal/fetcher"
	"github.com/JakeFAU/politecrawler/internal/proxy"
	"github.com/JakeFAU/politecrawler/internal/storage"
	"github.com/JakeFAU/politecrawler/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler" json:"crawler"`
	Events     EventsConfig     `mapstructure:"events" json:"events"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher" json:"fetcher"`
	Proxy      ProxyConfig      `mapstructure:"proxy" json:"proxy"`
	Storage    StorageConfig    `mapstructure:"storage" json:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive" json:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub" json:"pubsub"`
	Strategies []StrategyConfig `mapstructure:"strategies" json:"strategies"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" json:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" json:"telemetry"`
}

// CrawlerConfig governs the engine and its politeness rules.
type CrawlerConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	SocketTimeout   time.Duration `mapstructure:"socket_timeout" json:"socket_timeout"`
	MaxConnections  int           `mapstructure:"max_connections" json:"max_connections"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay" json:"max_retry_delay"`
	UserAgent       string        `mapstructure:"user_agent" json:"user_agent"`
	MaxPageSize     int           `mapstructure:"max_page_size" json:"max_page_size"`
	Delay           time.Duration `mapstructure:"delay" json:"delay"`
	Workers         int           `mapstructure:"workers" json:"workers"`
	QueueCapacity   int           `mapstructure:"queue_capacity" json:"queue_capacity"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout" json:"enqueue_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	RespectRobots   bool          `mapstructure:"respect_robots" json:"respect_robots"`
	BlockedHosts    []string      `mapstructure:"blocked_hosts" json:"blocked_hosts"`
	Seeds           []string      `mapstructure:"seeds" json:"seeds"`
}

// EventsConfig controls the event bus and its built-in listeners.
type EventsConfig struct {
	Async        bool          `mapstructure:"async" json:"async"`
	Workers      int           `mapstructure:"workers" json:"workers"`
	Buffer       int           `mapstructure:"buffer" json:"buffer"`
	CloseTimeout time.Duration `mapstructure:"close_timeout" json:"close_timeout"`
	Log          bool          `mapstructure:"log" json:"log"`
	Metrics      bool          `mapstructure:"metrics" json:"metrics"`
}

// FetcherConfig selects the fetch capability.
type FetcherConfig struct {
	Type     string         `mapstructure:"type" json:"type"`
	Headless HeadlessConfig `mapstructure:"headless" json:"headless"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel      int           `mapstructure:"max_parallel" json:"max_parallel"`
	NavTimeout       time.Duration `mapstructure:"nav_timeout" json:"nav_timeout"`
	PromoteThreshold int           `mapstructure:"promote_threshold" json:"promote_threshold"`
}

// ProxyConfig lists forwarding proxies.
type ProxyConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Entries []string `mapstructure:"entries" json:"entries"`
	MaxUses int      `mapstructure:"max_uses" json:"max_uses"`
}

// StorageConfig selects the item sink.
type StorageConfig struct {
	Type     string         `mapstructure:"type" json:"type"`
	Path     string         `mapstructure:"path" json:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" json:"sqlite"`
}

// PostgresConfig holds the item table connection.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn" json:"-"`
	Table string `mapstructure:"table" json:"table"`
}

// SQLiteConfig holds the item database path.
type SQLiteConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Type   string           `mapstructure:"type" json:"type"`
	Prefix string           `mapstructure:"prefix" json:"prefix"`
	Local  LocalBlobConfig  `mapstructure:"local" json:"local"`
	GCS    GCSArchiveConfig `mapstructure:"gcs" json:"gcs"`
}

// LocalBlobConfig is the filesystem archive root.
type LocalBlobConfig struct {
	BaseDir string `mapstructure:"base_dir" json:"base_dir"`
}

// GCSArchiveConfig names the archive bucket.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket" json:"bucket"`
}

// PubSubConfig holds metadata for event forwarding.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	ProjectID string `mapstructure:"project_id" json:"project_id"`
	TopicID   string `mapstructure:"topic_id" json:"topic_id"`
}

// StrategyConfig declares one HTML strategy. Viper lowercases map keys, so
// header and field names arrive lowercased.
type StrategyConfig struct {
	Name         string            `mapstructure:"name" json:"name"`
	Hosts        []string          `mapstructure:"hosts" json:"hosts"`
	Priority     int               `mapstructure:"priority" json:"priority"`
	Delay        time.Duration     `mapstructure:"delay" json:"delay"`
	MaxRetries   int               `mapstructure:"max_retries" json:"max_retries"`
	SameHost     bool              `mapstructure:"same_host" json:"same_host"`
	Headers      map[string]string `mapstructure:"headers" json:"headers"`
	LinkSelector string            `mapstructure:"link_selector" json:"link_selector"`
	Fields       map[string]string `mapstructure:"fields" json:"fields"`
	Required     []string          `mapstructure:"required" json:"required"`
}

// ServerConfig controls the admin HTTP server. Empty Addr disables it. A
// non-empty APIKey guards every /v1 route.
type ServerConfig struct {
	Addr   string `mapstructure:"addr" json:"addr"`
	APIKey string `mapstructure:"api_key" json:"-"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" json:"development"`
	Level       string `mapstructure:"level" json:"level"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Exporter    string `mapstructure:"exporter" json:"exporter"`
}

// Load builds a Config from defaults, an optional file, and CRAWLER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.connect_timeout", 30*time.Second)
	v.SetDefault("crawler.socket_timeout", 60*time.Second)
	v.SetDefault("crawler.max_connections", 100)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_retry_delay", time.Minute)
	v.SetDefault("crawler.user_agent", "SimpleCrawler/1.0")
	v.SetDefault("crawler.max_page_size", 1<<20)
	v.SetDefault("crawler.delay", time.Second)
	v.SetDefault("crawler.workers", 10)
	v.SetDefault("crawler.queue_capacity", 1000)
	v.SetDefault("crawler.enqueue_timeout", time.Second)
	v.SetDefault("crawler.poll_interval", time.Second)
	v.SetDefault("crawler.shutdown_timeout", 10*time.Second)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("events.async", true)
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("events.close_timeout", 5*time.Second)
	v.SetDefault("events.log", true)
	v.SetDefault("events.metrics", true)
	v.SetDefault("fetcher.type", fetcher.BackendHTTP)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.nav_timeout", 45*time.Second)
	v.SetDefault("fetcher.headless.promote_threshold", 2048)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.entries", []string{})
	v.SetDefault("proxy.max_uses", 100)
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.postgres.table", "crawl_items")
	v.SetDefault("storage.sqlite.path", "./data/items.db")
	v.SetDefault("archive.type", "noop")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local.base_dir", "./data/pages")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "politecrawler")
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Crawler.ConnectTimeout <= 0:
		return fmt.Errorf("crawler.connect_timeout must be > 0")
	case c.Crawler.SocketTimeout <= 0:
		return fmt.Errorf("crawler.socket_timeout must be > 0")
	case c.Crawler.MaxConnections <= 0:
		return fmt.Errorf("crawler.max_connections must be > 0")
	case c.Crawler.Workers <= 0:
		return fmt.Errorf("crawler.workers must be > 0")
	case strings.TrimSpace(c.Crawler.UserAgent) == "":
		return fmt.Errorf("crawler.user_agent must not be empty")
	case c.Crawler.QueueCapacity <= 0:
		return fmt.Errorf("crawler.queue_capacity must be > 0")
	case c.Crawler.Delay < 0:
		return fmt.Errorf("crawler.delay must be >= 0")
	case c.Crawler.MaxRetries < 0:
		return fmt.Errorf("crawler.max_retries must be >= 0")
	case c.Crawler.MaxPageSize < 0:
		return fmt.Errorf("crawler.max_page_size must be >= 0")
	case c.Events.Async && c.Events.Workers <= 0:
		return fmt.Errorf("events.workers must be > 0 when events.async is set")
	}
	if err := checkTag("fetcher.type", c.Fetcher.Type, fetcher.Backends()); err != nil {
		return err
	}
	if err := checkTag("storage.type", c.Storage.Type, storage.SinkTypes()); err != nil {
		return err
	}
	if err := checkTag("archive.type", c.Archive.Type, storage.BlobTypes()); err != nil {
		return err
	}
	if c.Fetcher.Type != fetcher.BackendHTTP && c.Fetcher.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when fetcher.type is %q", c.Fetcher.Type)
	}
	if c.Proxy.Enabled {
		if len(c.Proxy.Entries) == 0 {
			return fmt.Errorf("proxy.entries must not be empty when proxy.enabled is set")
		}
		if _, err := c.ProxyEntries(); err != nil {
			return err
		}
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub.enabled is set")
	}
	if err := checkTag("telemetry.exporter", c.Telemetry.Exporter, []string{telemetry.ExporterNone, telemetry.ExporterStdout}); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("strategies[%d].name must not be empty", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("strategies[%d].name %q is duplicated", i, s.Name)
		}
		names[s.Name] = struct{}{}
		if s.Delay < 0 || s.MaxRetries < 0 {
			return fmt.Errorf("strategies[%d] delay and max_retries must be >= 0", i)
		}
	}
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	return nil
}

func checkTag(key, value string, allowed []string) error {
	if slices.Contains(allowed, strings.ToLower(strings.TrimSpace(value))) {
		return nil
	}
	return fmt.Errorf("%s %q is not one of %s", key, value, strings.Join(allowed, ", "))
}

// ProxyEntries parses the proxy list.
func (c Config) ProxyEntries() ([]proxy.Entry, error) {
	entries := make([]proxy.Entry, 0, len(c.Proxy.Entries))
	for i, raw := range c.Proxy.Entries {
		e, err := proxy.ParseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy.entries[%d]: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Engine maps the crawler and events sections onto an engine.Config.
func (c Config) Engine() engine.Config {
	return engine.Config{
		ConnectTimeout:    c.Crawler.ConnectTimeout,
		SocketTimeout:     c.Crawler.SocketTimeout,
		MaxConnections:    c.Crawler.MaxConnections,
		UserAgent:         c.Crawler.UserAgent,
		Workers:           c.Crawler.Workers,
		QueueCapacity:     c.Crawler.QueueCapacity,
		Delay:             c.Crawler.Delay,
		EnqueueTimeout:    c.Crawler.EnqueueTimeout,
		PollInterval:      c.Crawler.PollInterval,
		ShutdownTimeout:   c.Crawler.ShutdownTimeout,
		MaxRetries:        c.Crawler.MaxRetries,
		MaxRetryDelay:     c.Crawler.MaxRetryDelay,
		AsyncEvents:       c.Events.Async,
		EventWorkers:      c.Events.Workers,
		EventBuffer:       c.Events.Buffer,
		EventCloseTimeout: c.Events.CloseTimeout,
	}
}
