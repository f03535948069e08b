// Package config loads the process-wide settings once. Precedence, lowest
// first: defaults, YAML file, QUILL_* environment variables, overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. QUILL_INFERENCE_API_KEY.
const EnvPrefix = "QUILL"

// Configuration validation errors.
var (
	ErrInvalidLogLevel          = errors.New("log.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("log.format must be 'text' or 'json'")
	ErrInvalidBatchSize         = errors.New("pipeline.batch_size must be at least 1")
	ErrInvalidResultsPerArticle = errors.New("pipeline.results_per_article must be between 1 and 20")
	ErrNegativeDelay            = errors.New("pipeline delays must be non-negative")
	ErrInvalidRetries           = errors.New("search.retries must be non-negative")
	ErrMissingPrimaryModel      = errors.New("inference.primary_model is required")
	ErrInvalidMaxNewTokens      = errors.New("inference.max_new_tokens must be at least 1")
	ErrInvalidTemperature       = errors.New("inference.temperature must be greater than 0")
	ErrInvalidTopP              = errors.New("inference.top_p must be in (0, 1]")
	ErrInvalidRequestRate       = errors.New("scraper.requests_per_second must be non-negative")
	ErrInvalidJitter            = errors.New("scraper.jitter must be between 0 and 1")
	ErrInvalidStorageBackend    = errors.New("storage.backend must be one of: sqlite, postgres, json")
	ErrMissingStorageDSN        = errors.New("storage.dsn is required")
	ErrInvalidDiscoveryLimit    = errors.New("discovery.limit must be at least 1")
	ErrInvalidMetricsPort       = errors.New("metrics.port must be between 0 and 65535")
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Search    SearchConfig    `mapstructure:"search"`
	Inference InferenceConfig `mapstructure:"inference"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SearchConfig configures the scraping provider and the optional SerpAPI
// fallback. An empty SerpAPIKey disables the fallback.
type SearchConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	SerpAPIKey string        `mapstructure:"serpapi_key"`
	SerpAPIURL string        `mapstructure:"serpapi_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Exclude    []string      `mapstructure:"exclude"`
	SiteDomain string        `mapstructure:"site_domain"`
	// CacheTTL of zero disables result caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type InferenceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	PrimaryModel      string        `mapstructure:"primary_model"`
	SecondaryModel    string        `mapstructure:"secondary_model"`
	MinimalModel      string        `mapstructure:"minimal_model"`
	MaxNewTokens      int           `mapstructure:"max_new_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	TopP              float64       `mapstructure:"top_p"`
	RepetitionPenalty float64       `mapstructure:"repetition_penalty"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type ScraperConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Jitter            float64       `mapstructure:"jitter"`
	UserAgents        []string      `mapstructure:"user_agents"`
	Proxies           []string      `mapstructure:"proxies"`
	ProxyFile         string        `mapstructure:"proxy_file"`
}

// DiscoveryConfig lists the listing pages (or sitemaps, when the URL ends in
// .xml) scanned for source articles.
type DiscoveryConfig struct {
	Sources      []string `mapstructure:"sources"`
	LinkSelector string   `mapstructure:"link_selector"`
	Limit        int      `mapstructure:"limit"`
}

type PipelineConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	ResultsPerArticle int           `mapstructure:"results_per_article"`
	ScrapeDelay       time.Duration `mapstructure:"scrape_delay"`
	ArticleDelay      time.Duration `mapstructure:"article_delay"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	CheckSynthesizer  bool          `mapstructure:"check_synthesizer"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// PublishConfig points at a remote article API. When BaseURL is set the
// pipeline reads sources from and publishes to it instead of local storage.
type PublishConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// MetricsConfig enables the /metrics endpoint when Port is non-zero.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// Options controls Load.
type Options struct {
	// Path is an optional YAML file.
	Path string
	// Overrides take precedence over everything else, keyed like "log.level".
	Overrides map[string]any
}

// Load reads, merges and validates the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.Path, err)
		}
	}
	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers every key, which also makes each one reachable
// through its environment variable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("search.base_url", "https://www.google.com")
	v.SetDefault("search.serpapi_key", "")
	v.SetDefault("search.serpapi_url", "https://serpapi.com")
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("search.retries", 2)
	v.SetDefault("search.retry_delay", time.Second)
	v.SetDefault("search.exclude", []string{})
	v.SetDefault("search.site_domain", "")
	v.SetDefault("search.cache_ttl", time.Duration(0))

	v.SetDefault("inference.base_url", "https://api-inference.huggingface.co")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.primary_model", "mistralai/Mistral-7B-Instruct-v0.2")
	v.SetDefault("inference.secondary_model", "HuggingFaceH4/zephyr-7b-beta")
	v.SetDefault("inference.minimal_model", "google/flan-t5-large")
	v.SetDefault("inference.max_new_tokens", 1024)
	v.SetDefault("inference.temperature", 0.7)
	v.SetDefault("inference.top_p", 0.9)
	v.SetDefault("inference.repetition_penalty", 1.1)
	v.SetDefault("inference.timeout", 120*time.Second)

	v.SetDefault("scraper.timeout", 10*time.Second)
	v.SetDefault("scraper.fingerprint", "chrome")
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.requests_per_second", 0.0)
	v.SetDefault("scraper.jitter", 0.2)
	v.SetDefault("scraper.user_agents", []string{})
	v.SetDefault("scraper.proxies", []string{})
	v.SetDefault("scraper.proxy_file", "")

	v.SetDefault("discovery.sources", []string{})
	v.SetDefault("discovery.link_selector", "")
	v.SetDefault("discovery.limit", 5)

	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.results_per_article", 2)
	v.SetDefault("pipeline.scrape_delay", time.Second)
	v.SetDefault("pipeline.article_delay", 3*time.Second)
	v.SetDefault("pipeline.rate_limit_cooldown", 60*time.Second)
	v.SetDefault("pipeline.check_synthesizer", true)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dsn", "quill.db")

	v.SetDefault("publish.base_url", "")

	v.SetDefault("metrics.port", 0)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return ErrInvalidLogFormat
	}

	if c.Search.Retries < 0 {
		return ErrInvalidRetries
	}

	if c.Inference.PrimaryModel == "" {
		return ErrMissingPrimaryModel
	}
	if c.Inference.MaxNewTokens < 1 {
		return ErrInvalidMaxNewTokens
	}
	if c.Inference.Temperature <= 0 {
		return ErrInvalidTemperature
	}
	if c.Inference.TopP <= 0 || c.Inference.TopP > 1 {
		return ErrInvalidTopP
	}

	if c.Scraper.RequestsPerSecond < 0 {
		return ErrInvalidRequestRate
	}
	if c.Scraper.Jitter < 0 || c.Scraper.Jitter > 1 {
		return ErrInvalidJitter
	}

	if c.Discovery.Limit < 1 {
		return ErrInvalidDiscoveryLimit
	}

	if c.Pipeline.BatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if c.Pipeline.ResultsPerArticle < 1 || c.Pipeline.ResultsPerArticle > 20 {
		return ErrInvalidResultsPerArticle
	}
	if c.Pipeline.ScrapeDelay < 0 || c.Pipeline.ArticleDelay < 0 || c.Pipeline.RateLimitCooldown < 0 {
		return ErrNegativeDelay
	}

	switch c.Storage.Backend {
	case "sqlite", "postgres", "json":
	default:
		return ErrInvalidStorageBackend
	}
	if c.Storage.DSN == "" {
		return ErrMissingStorageDSN
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return ErrInvalidMetricsPort
	}
	return nil
}
