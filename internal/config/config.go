package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Browser       BrowserConfig       `yaml:"browser" mapstructure:"browser"`
	Scrape        ScrapeConfig        `yaml:"scrape" mapstructure:"scrape"`
	StackExchange StackExchangeConfig `yaml:"stackexchange" mapstructure:"stackexchange"`
	Resilience    ResilienceConfig    `yaml:"resilience" mapstructure:"resilience"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for classification and
// summarization.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ClassifyModel  string `yaml:"classify_model" mapstructure:"classify_model"`
	SummaryModel   string `yaml:"summary_model" mapstructure:"summary_model"`
	SummaryTokens  int64  `yaml:"summary_tokens" mapstructure:"summary_tokens"`
	ClassifyTokens int64  `yaml:"classify_tokens" mapstructure:"classify_tokens"`
}

// BrowserConfig configures the headless browser used for scraping sessions.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome. Empty
	// launches a local one.
	RemoteURL         string `yaml:"remote_url" mapstructure:"remote_url"`
	Headless          bool   `yaml:"headless" mapstructure:"headless"`
	Stealth           bool   `yaml:"stealth" mapstructure:"stealth"`
	UserAgent         string `yaml:"user_agent" mapstructure:"user_agent"`
	ViewportWidth     int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height" mapstructure:"viewport_height"`
	NavigationTimeout int    `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
	SelectorTimeout   int    `yaml:"selector_timeout_secs" mapstructure:"selector_timeout_secs"`
	MinNavIntervalMs  int    `yaml:"min_nav_interval_ms" mapstructure:"min_nav_interval_ms"`
}

// NavigationTimeoutDuration returns the per-navigation timeout.
func (b BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return time.Duration(b.NavigationTimeout) * time.Second
}

// SelectorTimeoutDuration returns the per-selector wait timeout.
func (b BrowserConfig) SelectorTimeoutDuration() time.Duration {
	return time.Duration(b.SelectorTimeout) * time.Second
}

// ScrapeConfig configures the extractor state machine and source routing.
type ScrapeConfig struct {
	MaxLinks        int                 `yaml:"max_links" mapstructure:"max_links"`
	CaptchaWaitSecs int                 `yaml:"captcha_wait_secs" mapstructure:"captcha_wait_secs"`
	AdaptersFile    string              `yaml:"adapters_file" mapstructure:"adapters_file"`
	Routes          map[string][]string `yaml:"routes" mapstructure:"routes"`
	DefaultRoute    []string            `yaml:"default_route" mapstructure:"default_route"`
}

// CaptchaWait returns the fixed challenge suspension window.
func (s ScrapeConfig) CaptchaWait() time.Duration {
	return time.Duration(s.CaptchaWaitSecs) * time.Second
}

// StackExchangeConfig holds Stack Exchange API settings for the API source.
type StackExchangeConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Site    string `yaml:"site" mapstructure:"site"`
}

// ResilienceConfig configures LLM retries and per-source circuit breakers.
type ResilienceConfig struct {
	RetryAttempts          int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	SourceFailureThreshold int `yaml:"source_failure_threshold" mapstructure:"source_failure_threshold"`
	SourceResetSecs        int `yaml:"source_reset_secs" mapstructure:"source_reset_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentQuestions int `yaml:"max_concurrent_questions" mapstructure:"max_concurrent_questions"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("QASCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only fills keys viper already knows about.
	for _, key := range []string{"anthropic.key", "stackexchange.key", "browser.remote_url", "scrape.adapters_file"} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "qa-scraper.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("batch.max_concurrent_questions", 2)
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.summary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.summary_tokens", 1024)
	v.SetDefault("anthropic.classify_tokens", 16)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout_secs", 30)
	v.SetDefault("browser.selector_timeout_secs", 10)
	v.SetDefault("browser.min_nav_interval_ms", 1500)
	v.SetDefault("scrape.max_links", 5)
	v.SetDefault("scrape.captcha_wait_secs", 50)
	v.SetDefault("scrape.routes", map[string][]string{
		"programming": {"stackoverflow", "quora"},
		"technology":  {"stackoverflow", "quora"},
	})
	v.SetDefault("scrape.default_route", []string{"quora"})
	v.SetDefault("stackexchange.base_url", "https://api.stackexchange.com/2.3")
	v.SetDefault("stackexchange.site", "stackoverflow")
	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.source_failure_threshold", 3)
	v.SetDefault("resilience.source_reset_secs", 600)

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

// Validate checks that the fields required by the given command mode are
// present. Modes: "scrape" (ask, run, batch), "summarize", "serve", "accounts".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "scrape":
		problems = append(problems, c.requireStore()...)
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		problems = append(problems, c.validateScrape()...)
	case "summarize":
		problems = append(problems, c.requireStore()...)
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		problems = append(problems, c.requireStore()...)
		problems = append(problems, c.validateScrape()...)
	case "accounts":
		problems = append(problems, c.requireStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Batch.MaxConcurrentQuestions < 1 || c.Batch.MaxConcurrentQuestions > 20 {
		problems = append(problems, "batch.max_concurrent_questions must be between 1 and 20")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) requireStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	return problems
}

func (c *Config) validateScrape() []string {
	var problems []string
	if c.Scrape.MaxLinks < 1 {
		problems = append(problems, "scrape.max_links must be >= 1")
	}
	if c.Scrape.CaptchaWaitSecs < 0 {
		problems = append(problems, "scrape.captcha_wait_secs must be >= 0")
	}
	if len(c.Scrape.DefaultRoute) == 0 {
		problems = append(problems, "scrape.default_route must name at least one source")
	}
	return problems
}
