// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
	"github.com/JakeFAU/newsroom-crawler/internal/browser/headless"
	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
	"github.com/JakeFAU/newsroom-crawler/internal/worker"
)

// Storage backends for exported batches.
const (
	BlobBackendNone  = "none"
	BlobBackendLocal = "local"
	BlobBackendGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig      `mapstructure:"source"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	Crawler   CrawlerConfig     `mapstructure:"crawler"`
	Browser   BrowserConfig     `mapstructure:"browser"`
	Storage   StorageConfig     `mapstructure:"storage"`
	DB        DBConfig          `mapstructure:"db"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Telemetry TelemetryConfig   `mapstructure:"telemetry"`
}

// SourceConfig names the newsroom being crawled.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// CrawlerConfig governs the crawl loop.
type CrawlerConfig struct {
	MaxCount      int     `mapstructure:"max_count"`
	MaxPages      int     `mapstructure:"max_pages"`
	VisitDetail   bool    `mapstructure:"visit_detail"`
	NavigationQPS float64 `mapstructure:"navigation_qps"`
}

// BrowserConfig configures the headless browser and its wait budgets.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout"`
	PageSettle        time.Duration `mapstructure:"page_settle"`
	PaginationSettle  time.Duration `mapstructure:"pagination_settle"`
	ConsentSettle     time.Duration `mapstructure:"consent_settle"`
}

// StorageConfig selects where exported batches are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Document store drivers.
const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// DBConfig controls access to the document store. An empty DSN keeps
// documents in memory. For SQLite the DSN is a file path.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for batch notifications. An empty project
// keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	APIKey     string        `mapstructure:"api_key"`
	// Schedule is a cron expression such as "*/30 * * * *" or "@every 1h".
	// Empty disables scheduled batches.
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service on emitted traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSROOM")
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
	v.SetDefault("source.name", "PayPal")
	v.SetDefault("source.url", "https://newsroom.paypal-corp.com/news")
	setSelectorDefaults(v, crawler.DefaultSelectors())
	v.SetDefault("crawler.max_count", crawler.DefaultMaxCount)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.visit_detail", true)
	v.SetDefault("crawler.navigation_qps", 1.0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.element_timeout", "10s")
	v.SetDefault("browser.page_settle", "5s")
	v.SetDefault("browser.pagination_settle", "3s")
	v.SetDefault("browser.consent_settle", "1s")
	v.SetDefault("storage.backend", BlobBackendNone)
	v.SetDefault("storage.local_dir", "data/batches")
	v.SetDefault("storage.prefix", "batches")
	v.SetDefault("db.driver", DBDriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "newsroom-batches")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.run_timeout", "10m")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.schedule", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "newsroom-crawler")
	v.SetDefault("telemetry.version", "dev")
}

// setSelectorDefaults registers every locator key so env overrides such as
// NEWSROOM_SELECTORS_TITLE_VALUE resolve.
func setSelectorDefaults(v *viper.Viper, sel crawler.Selectors) {
	for key, loc := range map[string]browser.Locator{
		"consent":           sel.Consent,
		"container":         sel.Container,
		"item":              sel.Item,
		"title":             sel.Title,
		"date":              sel.Date,
		"summary":           sel.Summary,
		"link":              sel.Link,
		"next_page":         sel.NextPage,
		"detail_body":       sel.DetailBody,
		"detail_categories": sel.DetailCategories,
	} {
		v.SetDefault("selectors."+key+".by", string(loc.By))
		v.SetDefault("selectors."+key+".value", loc.Value)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Source.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.url must be an absolute url")
	}
	if c.Source.Name == "" {
		return fmt.Errorf("source.name must be set")
	}
	if c.Crawler.MaxCount <= 0 {
		return fmt.Errorf("crawler.max_count must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Crawler.NavigationQPS < 0 {
		return fmt.Errorf("crawler.navigation_qps must be >= 0")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout and browser.element_timeout must be > 0")
	}
	switch c.Storage.Backend {
	case BlobBackendNone:
	case BlobBackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BlobBackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of none, local, gcs", c.Storage.Backend)
	}
	if c.DB.Driver != DBDriverPostgres && c.DB.Driver != DBDriverSQLite {
		return fmt.Errorf("db.driver %q must be one of postgres, sqlite", c.DB.Driver)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Schedule != "" {
		if _, err := worker.ParseSchedule(c.Server.Schedule); err != nil {
			return fmt.Errorf("server.schedule: %w", err)
		}
	}
	if err := c.CrawlerConfig().Validate(); err != nil {
		return fmt.Errorf("selectors: %w", err)
	}
	return nil
}

// CrawlerConfig converts the loaded settings into the crawl loop's config.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		Source:           c.Source.Name,
		StartURL:         c.Source.URL,
		Selectors:        c.Selectors,
		VisitDetail:      c.Crawler.VisitDetail,
		MaxPages:         c.Crawler.MaxPages,
		DefaultMaxCount:  c.Crawler.MaxCount,
		ElementTimeout:   c.Browser.ElementTimeout,
		PageSettle:       c.Browser.PageSettle,
		PaginationSettle: c.Browser.PaginationSettle,
		ConsentSettle:    c.Browser.ConsentSettle,
		NavigationQPS:    c.Crawler.NavigationQPS,
	}
}

// HeadlessConfig converts the browser settings for the chromedp driver.
func (c Config) HeadlessConfig() headless.Config {
	return headless.Config{
		Headless:          c.Browser.Headless,
		UserAgent:         c.Browser.UserAgent,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
		NavigationTimeout: c.Browser.NavigationTimeout,
		ActionTimeout:     c.Browser.ElementTimeout,
	}
}
