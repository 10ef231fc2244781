// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Fetcher modes.
const (
	FetcherHTTP     = "http"
	FetcherHeadless = "headless"
)

// Storage and cache backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig identifies the catalog being crawled.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CrawlConfig bounds the crawl and paces page fetches.
type CrawlConfig struct {
	MaxPages         int           `mapstructure:"max_pages"`
	MaxDepth         int           `mapstructure:"max_depth"`
	EmptyStreakLimit int           `mapstructure:"empty_streak_limit"`
	RateLimit        bool          `mapstructure:"rate_limit"`
	Delay            time.Duration `mapstructure:"delay"`
	Jitter           time.Duration `mapstructure:"jitter"`
	InvalidateTags   []string      `mapstructure:"invalidate_tags"`
}

// HTTPConfig configures request headers, timeouts and retries.
type HTTPConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxRetries      int               `mapstructure:"max_retries"`
	RetryDelay      time.Duration     `mapstructure:"retry_delay"`
	UserAgent       string            `mapstructure:"user_agent"`
	AcceptLanguage  string            `mapstructure:"accept_language"`
	Referer         string            `mapstructure:"referer"`
	Headers         map[string]string `mapstructure:"headers"`
	BlockedStatuses []int             `mapstructure:"blocked_statuses"`
	RespectRobots   bool              `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	RemoteURL         string        `mapstructure:"remote_url"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	DomainQPS         float64       `mapstructure:"domain_qps"`
	DomainBurst       int           `mapstructure:"domain_burst"`
	Markers           []string      `mapstructure:"markers"`
}

// FetcherConfig picks the page fetcher.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
}

// ExtractConfig tunes category and product extraction.
type ExtractConfig struct {
	CategoryWhitelist []string `mapstructure:"category_whitelist"`
	ProductSelector   string   `mapstructure:"product_selector"`
	CTAPhrases        []string `mapstructure:"cta_phrases"`
	Brands            []string `mapstructure:"brands"`
	DefaultCurrency   string   `mapstructure:"default_currency"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ProductsTable   string        `mapstructure:"products_table"`
	CategoriesTable string        `mapstructure:"categories_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig points at the local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig selects the read-side cache invalidation backend.
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"`
	Addrs       []string      `mapstructure:"addrs"`
	MasterName  string        `mapstructure:"master_name"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ServerConfig controls the optional ops HTTP listener.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
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
	v.SetDefault("site.base_url", "")
	v.SetDefault("crawl.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawl.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawl.empty_streak_limit", crawler.DefaultEmptyStreakLimit)
	v.SetDefault("crawl.rate_limit", true)
	v.SetDefault("crawl.delay", "2s")
	v.SetDefault("crawl.jitter", "1s")
	v.SetDefault("crawl.invalidate_tags", crawler.DefaultInvalidateTags)
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_delay", "2s")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("http.accept_language", "sl-SI,sl;q=0.9,en;q=0.8")
	v.SetDefault("http.referer", "")
	v.SetDefault("http.headers", map[string]string{})
	v.SetDefault("http.blocked_statuses", []int{403, 429})
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("headless.remote_url", "")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.connect_timeout", "15s")
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.settle_delay", "1500ms")
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("headless.domain_burst", 1)
	v.SetDefault("headless.markers", []string{})
	v.SetDefault("fetcher.mode", FetcherHTTP)
	v.SetDefault("extract.category_whitelist", []string{})
	v.SetDefault("extract.product_selector", "")
	v.SetDefault("extract.cta_phrases", []string{})
	v.SetDefault("extract.brands", []string{})
	v.SetDefault("extract.default_currency", "EUR")
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.chunk_size", 1000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.products_table", "products")
	v.SetDefault("db.categories_table", "categories")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("sqlite.path", "data/catalog.db")
	v.SetDefault("cache.backend", BackendNone)
	v.SetDefault("cache.addrs", []string{"localhost:6379"})
	v.SetDefault("cache.master_name", "")
	v.SetDefault("cache.username", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "catalog:")
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.CrawlOptions().Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if c.Crawl.Delay < 0 || c.Crawl.Jitter < 0 {
		return fmt.Errorf("crawl.delay and crawl.jitter must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Fetcher.Mode {
	case FetcherHTTP:
	case FetcherHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when fetcher.mode is headless")
		}
	default:
		return fmt.Errorf("fetcher.mode %q is not one of http, headless", c.Fetcher.Mode)
	}
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set when storage.backend is sqlite")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of postgres, sqlite, memory", c.Storage.Backend)
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("storage.chunk_size must be > 0")
	}
	switch c.Cache.Backend {
	case BackendNone:
	case BackendRedis:
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of redis, none", c.Cache.Backend)
	}
	return nil
}

// CrawlOptions converts the crawl section into orchestrator bounds.
func (c Config) CrawlOptions() crawler.Options {
	return crawler.Options{
		MaxPages:         c.Crawl.MaxPages,
		MaxDepth:         c.Crawl.MaxDepth,
		EmptyStreakLimit: c.Crawl.EmptyStreakLimit,
		RateLimit:        c.Crawl.RateLimit,
		InvalidateTags:   append([]string(nil), c.Crawl.InvalidateTags...),
	}
}
