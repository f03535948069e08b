package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/quill/internal/apiclient"
	"github.com/FranksOps/quill/internal/config"
	"github.com/FranksOps/quill/internal/extract"
	"github.com/FranksOps/quill/internal/fingerprint"
	"github.com/FranksOps/quill/internal/llm"
	"github.com/FranksOps/quill/internal/pipeline"
	"github.com/FranksOps/quill/internal/scraper"
	"github.com/FranksOps/quill/internal/serp"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/FranksOps/quill/internal/storage/jsonbackend"
	"github.com/FranksOps/quill/internal/storage/postgres"
	"github.com/FranksOps/quill/internal/storage/sqlite"
	"github.com/FranksOps/quill/internal/synth"
	"github.com/FranksOps/quill/pkg/httpclient"
	"github.com/FranksOps/quill/pkg/proxy"
	"github.com/FranksOps/quill/pkg/ratelimit"
	"github.com/FranksOps/quill/pkg/useragent"
)

const robotsAgent = "quill"

// app holds the components built from one configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	limiter    *ratelimit.Limiter
	fetcher    *scraper.Fetcher
	extractor  *extract.Extractor
	discoverer *extract.Discoverer
	search     serp.Provider
	synth      *synth.Synthesizer

	backend storage.Backend
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	profile, err := fingerprint.ParseProfile(cfg.Scraper.Fingerprint)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if len(cfg.Scraper.Proxies) > 0 || cfg.Scraper.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.Add(cfg.Scraper.Proxies...); err != nil {
			return nil, err
		}
		if cfg.Scraper.ProxyFile != "" {
			if err := proxies.LoadFile(cfg.Scraper.ProxyFile); err != nil {
				return nil, err
			}
		}
		logger.Info("proxy rotation enabled", "proxies", proxies.Len())
	}

	uas := useragent.NewPool(cfg.Scraper.UserAgents)
	limiter := ratelimit.NewLimiter(cfg.Scraper.RequestsPerSecond, cfg.Scraper.Jitter)

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      cfg.Scraper.Timeout,
		UseCookieJar: true,
		UAPool:       uas,
		Fingerprint:  profile,
		Limiter:      limiter,
		Proxies:      proxies,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	var robots *scraper.RobotsTxtAuditor
	if cfg.Scraper.RespectRobots {
		robots = scraper.NewRobotsTxtAuditor(fetcher, robotsAgent, logger)
	}

	search, err := newSearchProvider(cfg, profile, uas, proxies, logger)
	if err != nil {
		return nil, err
	}

	inference, err := llm.NewHuggingFace(llm.Config{
		BaseURL: cfg.Inference.BaseURL,
		APIKey:  cfg.Inference.APIKey,
		Timeout: cfg.Inference.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		fetcher: fetcher,
		extractor: extract.New(fetcher, extract.Config{
			Robots: robots,
			Logger: logger,
		}),
		discoverer: extract.NewDiscoverer(fetcher, extract.DiscoverConfig{
			Sources:      cfg.Discovery.Sources,
			LinkSelector: cfg.Discovery.LinkSelector,
			Sitemaps:     scraper.NewSitemapFetcher(fetcher, logger),
			Robots:       robots,
			Logger:       logger,
		}),
		search: search,
		synth: synth.New(inference, synth.Config{
			PrimaryModel:   cfg.Inference.PrimaryModel,
			SecondaryModel: cfg.Inference.SecondaryModel,
			MinimalModel:   cfg.Inference.MinimalModel,
			Params: llm.Params{
				MaxNewTokens:      cfg.Inference.MaxNewTokens,
				Temperature:       cfg.Inference.Temperature,
				TopP:              cfg.Inference.TopP,
				RepetitionPenalty: cfg.Inference.RepetitionPenalty,
			},
			Logger: logger,
		}),
	}, nil
}

// newSearchProvider builds Google scraping with an optional SerpAPI fallback
// and an optional result cache. Search gets its own fetcher so that its
// timeout is independent of article scraping.
func newSearchProvider(cfg *config.Config, profile fingerprint.Profile, uas *useragent.Pool, proxies *proxy.Pool, logger *slog.Logger) (serp.Provider, error) {
	sc := cfg.Search
	filter := serp.NewFilter(sc.SiteDomain, sc.Exclude...)

	retries := sc.Retries
	if retries == 0 {
		retries = -1
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      sc.Timeout,
		UseCookieJar: true,
		UAPool:       uas,
		Fingerprint:  profile,
		Proxies:      proxies,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	google, err := serp.NewGoogleScrape(serp.GoogleConfig{
		BaseURL:    sc.BaseURL,
		Fetcher:    fetcher,
		Filter:     filter,
		Retries:    retries,
		RetryDelay: sc.RetryDelay,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	fb := &serp.Fallback{Primary: google, Logger: logger}
	if sc.SerpAPIKey != "" {
		client, err := httpclient.New(httpclient.Config{Timeout: sc.Timeout})
		if err != nil {
			return nil, err
		}
		api, err := serp.NewSerpAPI(serp.SerpAPIConfig{
			BaseURL:    sc.SerpAPIURL,
			APIKey:     sc.SerpAPIKey,
			Client:     client,
			Filter:     filter,
			Retries:    retries,
			RetryDelay: sc.RetryDelay,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		fb.Secondary = api
	} else {
		logger.Debug("no serpapi key configured, search fallback disabled")
	}

	if sc.CacheTTL > 0 {
		return serp.NewCached(fb, sc.CacheTTL), nil
	}
	return fb, nil
}

// openBackend opens the configured local storage backend.
func (a *app) openBackend(ctx context.Context) (storage.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	var (
		b   storage.Backend
		err error
	)
	switch a.cfg.Storage.Backend {
	case "sqlite":
		b, err = sqlite.New(a.cfg.Storage.DSN)
	case "postgres":
		b, err = postgres.New(ctx, a.cfg.Storage.DSN)
	case "json":
		b, err = jsonbackend.New(a.cfg.Storage.DSN)
	default:
		err = fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	a.backend = b
	return b, nil
}

// articleStore is where sources come from and derivatives go: the remote
// article API when publish.base_url is set, local storage otherwise.
type articleStore interface {
	pipeline.SourceStore
	pipeline.Publisher
	SaveSource(ctx context.Context, a *storage.Article) error
}

type remoteStore struct {
	*apiclient.Client
}

func (r remoteStore) SaveSource(ctx context.Context, a *storage.Article) error {
	a.IsOriginal = true
	a.OriginalID = ""
	_, err := r.CreateArticle(ctx, a)
	return err
}

func (a *app) articleStore(ctx context.Context) (articleStore, error) {
	if a.cfg.Publish.BaseURL != "" {
		c, err := apiclient.New(apiclient.Config{
			BaseURL: a.cfg.Publish.BaseURL,
			Retries: 2,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		return remoteStore{c}, nil
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(b), nil
}

func (a *app) orchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	store, err := a.articleStore(ctx)
	if err != nil {
		return nil, err
	}
	pc := a.cfg.Pipeline
	return pipeline.New(pipeline.Config{
		Sources:           store,
		Publisher:         store,
		Searcher:          a.search,
		References:        a.extractor,
		Synthesizer:       a.synth,
		Logger:            a.logger,
		BatchSize:         pc.BatchSize,
		ResultsPerArticle: pc.ResultsPerArticle,
		ScrapeDelay:       zeroDisables(pc.ScrapeDelay),
		ArticleDelay:      zeroDisables(pc.ArticleDelay),
		RateLimitCooldown: zeroDisables(pc.RateLimitCooldown),
		CheckSynthesizer:  pc.CheckSynthesizer,
	})
}

// zeroDisables maps a configured zero delay to the pipeline's "disabled".
func zeroDisables(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func (a *app) Close() {
	a.limiter.Stop()
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("closing storage", "err", err)
		}
	}
}
