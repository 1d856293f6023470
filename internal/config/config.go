package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Voice        VoiceConfig        `yaml:"voice" mapstructure:"voice"`
	Places       PlacesConfig       `yaml:"places" mapstructure:"places"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
	Billing      BillingConfig      `yaml:"billing" mapstructure:"billing"`
	Dossier      DossierConfig      `yaml:"dossier" mapstructure:"dossier"`
	Blob         BlobConfig         `yaml:"blob" mapstructure:"blob"`
	Availability AvailabilityConfig `yaml:"availability" mapstructure:"availability"`
	Scrape       ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VoiceConfig holds voice provider API and webhook settings.
type VoiceConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	SigningKey    string `yaml:"signing_key" mapstructure:"signing_key"`
}

// PlacesConfig holds places provider settings.
type PlacesConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// FirecrawlConfig holds crawl provider settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BillingConfig holds the metering provider settings.
type BillingConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DossierConfig configures dossier generation.
type DossierConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// BlobConfig configures blob storage for scraped page content.
type BlobConfig struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// AvailabilityConfig configures slot generation.
type AvailabilityConfig struct {
	LookaheadDays   int    `yaml:"lookahead_days" mapstructure:"lookahead_days"`
	ConflictDays    int    `yaml:"conflict_days" mapstructure:"conflict_days"`
	SlotMinutes     int    `yaml:"slot_minutes" mapstructure:"slot_minutes"`
	BufferMinutes   int    `yaml:"buffer_minutes" mapstructure:"buffer_minutes"`
	DefaultTimezone string `yaml:"default_timezone" mapstructure:"default_timezone"`
}

// ScrapeConfig configures the crawl/scrape pipeline driver.
type ScrapeConfig struct {
	MaxPages       int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth       int      `yaml:"max_depth" mapstructure:"max_depth"`
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs   int      `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	CharBudget     int      `yaml:"char_budget" mapstructure:"char_budget"`
	IncludePaths   []string `yaml:"include_paths" mapstructure:"include_paths"`
	ExcludePaths   []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	PollTimeoutSec int      `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// WorkerConfig configures the task queue worker.
type WorkerConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxRetries     int `yaml:"max_retries" mapstructure:"max_retries"`
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the webhook/API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default empty so env vars bind through Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("voice.key", "")
	v.SetDefault("voice.webhook_secret", "")
	v.SetDefault("voice.signing_key", "")
	v.SetDefault("places.key", "")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("billing.key", "")
	v.SetDefault("dossier.key", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("voice.base_url", "https://api.vapi.ai")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.max_results", 20)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("billing.base_url", "https://api.useautumn.com/v1")
	v.SetDefault("dossier.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("dossier.max_tokens", 2048)
	v.SetDefault("blob.prefix", "audit-pages")
	v.SetDefault("availability.lookahead_days", 7)
	v.SetDefault("availability.conflict_days", 14)
	v.SetDefault("availability.slot_minutes", 15)
	v.SetDefault("availability.buffer_minutes", 15)
	v.SetDefault("availability.default_timezone", "America/New_York")
	v.SetDefault("scrape.max_pages", 25)
	v.SetDefault("scrape.max_depth", 2)
	v.SetDefault("scrape.batch_size", 4)
	v.SetDefault("scrape.batch_delay_ms", 1000)
	v.SetDefault("scrape.char_budget", 12000)
	v.SetDefault("scrape.poll_timeout_secs", 300)
	v.SetDefault("scrape.include_paths", []string{
		"/product/*", "/products/*", "/pricing/*", "/about/*", "/docs/*",
		"/case-studies/*", "/customers/*", "/security/*", "/services/*",
	})
	v.SetDefault("scrape.exclude_paths", []string{
		"/legal/*", "/blog/*", "/careers/*", "/tag/*", "/category/*",
		"/privacy/*", "/terms/*",
	})
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.batch_size", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
