package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/accounts"
	"github.com/sells-group/qa-scraper/internal/aggregate"
	"github.com/sells-group/qa-scraper/internal/browser"
	"github.com/sells-group/qa-scraper/internal/llm"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
	"github.com/sells-group/qa-scraper/internal/resilience"
	"github.com/sells-group/qa-scraper/internal/scrape"
	"github.com/sells-group/qa-scraper/internal/sink"
	"github.com/sells-group/qa-scraper/internal/store"
	anthropicpkg "github.com/sells-group/qa-scraper/pkg/anthropic"
	"github.com/sells-group/qa-scraper/pkg/stackexchange"
)

// scrapeEnv holds everything the ask/run/batch/serve commands need.
type scrapeEnv struct {
	Store        store.Store
	Browser      *browser.Manager
	Accounts     *accounts.Pool
	Adapters     map[string]scrape.Adapter
	Extractors   *scrape.Registry
	Aggregator   *aggregate.Aggregator
	Orchestrator *orchestrator.Orchestrator
	Breakers     *resilience.SourceBreakers
}

// Close releases the browser and the store.
func (e *scrapeEnv) Close() {
	if e.Browser != nil {
		if err := e.Browser.Close(); err != nil {
			zap.L().Warn("close browser", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initScrapeEnv opens the store, loads adapters and builds the orchestrator.
// Callers should defer env.Close().
func initScrapeEnv(ctx context.Context, mode string) (*scrapeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	adapters, err := scrape.LoadAdapters(cfg.Scrape.AdaptersFile)
	if err != nil {
		return nil, eris.Wrap(err, "load adapters")
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &scrapeEnv{
		Store:    st,
		Browser:  browser.NewManager(cfg.Browser),
		Accounts: accounts.New(st),
		Adapters: adapters,
		Breakers: resilience.NewSourceBreakers(resilience.NewCircuitBreakerConfig(
			cfg.Resilience.SourceFailureThreshold,
			cfg.Resilience.SourceResetSecs,
		)),
	}

	sk := sink.New(st)
	env.Extractors = scrape.NewRegistry()
	for _, name := range scrape.Names(adapters) {
		env.Extractors.Register(scrape.NewBrowserExtractor(adapters[name], env.Accounts, env.Browser, sk,
			scrape.WithMaxLinks(cfg.Scrape.MaxLinks),
			scrape.WithCaptchaWait(cfg.Scrape.CaptchaWait()),
		))
	}
	env.Extractors.Register(scrape.NewAPIExtractor(stackexchange.NewClient(
		stackexchange.WithBaseURL(cfg.StackExchange.BaseURL),
		stackexchange.WithKey(cfg.StackExchange.Key),
		stackexchange.WithSite(cfg.StackExchange.Site),
	), sk, cfg.Scrape.MaxLinks))

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	retry := retryConfig()
	env.Aggregator = aggregate.New(st, llm.NewSummarizer(anthropicClient, cfg.Anthropic, retry))
	env.Orchestrator = orchestrator.New(
		st,
		llm.NewClassifier(anthropicClient, cfg.Anthropic, retry),
		env.Extractors,
		env.Aggregator,
		orchestrator.NewRouter(cfg.Scrape.Routes, cfg.Scrape.DefaultRoute),
		env.Breakers,
	)

	zap.L().Info("scrape environment ready",
		zap.Strings("adapters", scrape.Names(adapters)),
		zap.Strings("extractors", env.Extractors.Names()),
		zap.String("store", cfg.Store.Driver),
	)

	return env, nil
}

// initAggregator builds just the store and aggregator for summarize.
func initAggregator(ctx context.Context) (store.Store, *aggregate.Aggregator, error) {
	if err := cfg.Validate("summarize"); err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	sum := llm.NewSummarizer(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic, retryConfig())
	return st, aggregate.New(st, sum), nil
}

func retryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Resilience.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.Resilience.RetryAttempts
	}
	return rc
}
