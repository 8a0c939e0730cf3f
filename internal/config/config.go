package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ScraperVersion is stamped into every snapshot's meta block.
const ScraperVersion = "1.0.0"

// Config holds the full application configuration. It is constructed once at
// run start and passed to every component — nothing reads ambient state.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Network   NetworkConfig   `yaml:"network" mapstructure:"network"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Keywords  KeywordsConfig  `yaml:"keywords" mapstructure:"keywords"`
	Watchlist []CountryConfig `yaml:"watchlist" mapstructure:"watchlist"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds classification backend settings. Key is read from
// the ANTHROPIC_API_KEY environment variable; its absence is only an error
// for invocations that actually classify.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	DefaultModel    string `yaml:"default_model" mapstructure:"default_model"`
	PremiumModel    string `yaml:"premium_model" mapstructure:"premium_model"`
	MaxInputTokens  int    `yaml:"max_input_tokens" mapstructure:"max_input_tokens"`
	MaxOutputTokens int64  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// NetworkConfig configures the rate-limited fetcher.
type NetworkConfig struct {
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestDelaySecs float64 `yaml:"request_delay_secs" mapstructure:"request_delay_secs"`
	BackoffStartSecs float64 `yaml:"backoff_start_secs" mapstructure:"backoff_start_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RequestDelay returns the minimum inter-request delay per host.
func (n NetworkConfig) RequestDelay() time.Duration {
	return time.Duration(n.RequestDelaySecs * float64(time.Second))
}

// BackoffStart returns the initial 429 backoff duration.
func (n NetworkConfig) BackoffStart() time.Duration {
	return time.Duration(n.BackoffStartSecs * float64(time.Second))
}

// Timeout returns the per-request timeout.
func (n NetworkConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSecs) * time.Second
}

// CacheConfig configures the on-disk content cache.
type CacheConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// OutputConfig configures where the pipeline writes its artifacts.
type OutputConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	RawPath    string `yaml:"raw_path" mapstructure:"raw_path"`
	BatchState string `yaml:"batch_state" mapstructure:"batch_state"`
}

// PipelineConfig configures run-level behavior.
type PipelineConfig struct {
	MaxItems       int    `yaml:"max_items" mapstructure:"max_items"`
	DateRangeStart string `yaml:"date_range_start" mapstructure:"date_range_start"`
}

// SourcesConfig holds per-source discovery settings.
type SourcesConfig struct {
	FederalRegister FederalRegisterConfig `yaml:"federal_register" mapstructure:"federal_register"`
	WhiteHouse      ListingSourceConfig   `yaml:"whitehouse" mapstructure:"whitehouse"`
	Commerce        ListingSourceConfig   `yaml:"commerce" mapstructure:"commerce"`
	USTR            ListingSourceConfig   `yaml:"ustr" mapstructure:"ustr"`
}

// FederalRegisterConfig configures the Federal Register JSON API source.
type FederalRegisterConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	PerPage  int    `yaml:"per_page" mapstructure:"per_page"`
}

// ListingSourceConfig configures a paginated HTML listing source. URL
// templates contain a %d placeholder for the page number.
type ListingSourceConfig struct {
	FactSheetsURL    string `yaml:"fact_sheets_url" mapstructure:"fact_sheets_url"`
	PressReleasesURL string `yaml:"press_releases_url" mapstructure:"press_releases_url"`
	MaxPages         int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// KeywordsConfig holds the discovery and pre-filter keyword lists.
type KeywordsConfig struct {
	Tech []string `yaml:"tech" mapstructure:"tech"`
	Deal []string `yaml:"deal" mapstructure:"deal"`
}

// All returns the combined tech + deal keyword list used by the pre-filter.
func (k KeywordsConfig) All() []string {
	out := make([]string, 0, len(k.Tech)+len(k.Deal))
	out = append(out, k.Tech...)
	out = append(out, k.Deal...)
	return out
}

// CountryConfig is one watchlist entry. Adding a country is one config
// entry — every scraper picks it up automatically.
type CountryConfig struct {
	Key        string   `yaml:"key" mapstructure:"key"`
	Names      []string `yaml:"names" mapstructure:"names"`
	Code       string   `yaml:"code" mapstructure:"code"`
	FormalName string   `yaml:"formal_name" mapstructure:"formal_name"`
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
	v.SetEnvPrefix("DEALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// ANTHROPIC_API_KEY is the single credential environment variable.
	_ = v.BindEnv("anthropic.key", "ANTHROPIC_API_KEY")

	// Defaults
	v.SetDefault("anthropic.default_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.premium_model", "claude-opus-4-6")
	v.SetDefault("anthropic.max_input_tokens", 800)
	v.SetDefault("anthropic.max_output_tokens", 2048)
	v.SetDefault("network.user_agent", "deal-tracker/"+ScraperVersion+" (github.com/sells-group/deal-tracker)")
	v.SetDefault("network.request_delay_secs", 1.5)
	v.SetDefault("network.backoff_start_secs", 10)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.timeout_secs", 30)
	v.SetDefault("cache.dir", ".cache")
	v.SetDefault("output.path", "data/deals.json")
	v.SetDefault("output.raw_path", "data/deals.raw.json")
	v.SetDefault("output.batch_state", "data/batch.json")
	v.SetDefault("pipeline.max_items", 50)
	v.SetDefault("pipeline.date_range_start", "2025-01-01")
	v.SetDefault("sources.federal_register.endpoint", "https://www.federalregister.gov/api/v1/documents.json")
	v.SetDefault("sources.federal_register.per_page", 50)
	v.SetDefault("sources.whitehouse.fact_sheets_url", "https://www.whitehouse.gov/fact-sheets/page/%d/")
	v.SetDefault("sources.whitehouse.press_releases_url", "https://www.whitehouse.gov/articles/page/%d/")
	v.SetDefault("sources.whitehouse.max_pages", 25)
	v.SetDefault("sources.commerce.fact_sheets_url", "https://www.commerce.gov/news/fact-sheets?page=%d")
	v.SetDefault("sources.commerce.press_releases_url", "https://www.commerce.gov/news/press-releases?page=%d")
	v.SetDefault("sources.commerce.max_pages", 5)
	v.SetDefault("sources.ustr.fact_sheets_url", "https://ustr.gov/about-us/policy-offices/press-office/fact-sheets?page=%d")
	v.SetDefault("sources.ustr.press_releases_url", "https://ustr.gov/about-us/policy-offices/press-office/press-releases?page=%d")
	v.SetDefault("sources.ustr.max_pages", 5)
	v.SetDefault("keywords.tech", []string{
		"technology", "AI", "artificial intelligence", "semiconductor", "quantum",
		"6G", "biotech", "biotechnology", "nuclear", "fusion", "cyber", "digital",
		"chip", "data center", "cloud", "software", "manufacturing", "computing",
		"telecom", "telecommunications", "robotics", "space",
	})
	v.SetDefault("keywords.deal", []string{
		"prosperity", "trade deal", "partnership", "agreement", "investment",
		"bilateral", "memorandum", "MOU", "commitment", "contract", "deal",
		"cooperation", "framework", "pact", "accord",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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
