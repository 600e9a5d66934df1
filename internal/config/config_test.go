package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "qa-scraper.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Batch.MaxConcurrentQuestions)
	assert.Equal(t, 5, cfg.Scrape.MaxLinks)
	assert.Equal(t, 50*time.Second, cfg.Scrape.CaptchaWait())
	assert.Equal(t, []string{"stackoverflow", "quora"}, cfg.Scrape.Routes["programming"])
	assert.Equal(t, []string{"stackoverflow", "quora"}, cfg.Scrape.Routes["technology"])
	assert.Equal(t, []string{"quora"}, cfg.Scrape.DefaultRoute)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Browser.SelectorTimeoutDuration())
	assert.Equal(t, "https://api.stackexchange.com/2.3", cfg.StackExchange.BaseURL)
	assert.Equal(t, "stackoverflow", cfg.StackExchange.Site)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.ClassifyModel)
	assert.Equal(t, int64(1024), cfg.Anthropic.SummaryTokens)
	assert.Equal(t, 3, cfg.Resilience.SourceFailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/qa
log:
  level: debug
  format: console
scrape:
  max_links: 3
  captcha_wait_secs: 5
  default_route: [stackexchange]
batch:
  max_concurrent_questions: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/qa", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Scrape.MaxLinks)
	assert.Equal(t, 5*time.Second, cfg.Scrape.CaptchaWait())
	assert.Equal(t, []string{"stackexchange"}, cfg.Scrape.DefaultRoute)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentQuestions)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QASCRAPE_STORE_DRIVER", "postgres")
	t.Setenv("QASCRAPE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("QASCRAPE_SERVER_PORT", "3000")
	t.Setenv("QASCRAPE_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOnlySecretsPassValidation(t *testing.T) {
	chdirTemp(t)

	t.Setenv("QASCRAPE_ANTHROPIC_KEY", "sk-ant-env")
	t.Setenv("QASCRAPE_STACKEXCHANGE_KEY", "se-env")
	t.Setenv("QASCRAPE_BROWSER_REMOTE_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
	t.Setenv("QASCRAPE_SCRAPE_ADAPTERS_FILE", "adapters.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-env", cfg.Anthropic.Key)
	assert.Equal(t, "se-env", cfg.StackExchange.Key)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.RemoteURL)
	assert.Equal(t, "adapters.yaml", cfg.Scrape.AdaptersFile)
	assert.NoError(t, cfg.Validate("scrape"))
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "qa.db"
	cfg.Batch.MaxConcurrentQuestions = 2
	cfg.Scrape.MaxLinks = 5
	cfg.Scrape.CaptchaWaitSecs = 50
	cfg.Scrape.DefaultRoute = []string{"quora"}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateScrape_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("scrape"))
}

func TestValidateScrape_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Scrape.MaxLinks = 0
	cfg.Scrape.DefaultRoute = nil

	err := cfg.Validate("scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "scrape.max_links must be >= 1")
	assert.Contains(t, err.Error(), "scrape.default_route")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateSummarize_NeedsKey(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("summarize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentQuestions = 0
	err := cfg.Validate("accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_questions must be between 1 and 20")

	cfg.Batch.MaxConcurrentQuestions = 21
	assert.Error(t, cfg.Validate("accounts"))

	cfg.Batch.MaxConcurrentQuestions = 20
	assert.NoError(t, cfg.Validate("accounts"))
}
