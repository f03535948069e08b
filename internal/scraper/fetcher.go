package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/bypass"
	"github.com/FranksOps/quill/internal/fingerprint"
	"github.com/FranksOps/quill/internal/metrics"
	"github.com/FranksOps/quill/pkg/httpclient"
	"github.com/FranksOps/quill/pkg/proxy"
	"github.com/FranksOps/quill/pkg/ratelimit"
	"github.com/FranksOps/quill/pkg/useragent"
)

// DefaultTimeout bounds a single page fetch.
const DefaultTimeout = 10 * time.Second

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	MaxBodyBytes int64
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	// Proxies, when non-empty, rotates outgoing requests across the pool.
	Proxies *proxy.Pool
	// Detectors run against every response; nil means bypass.DefaultDetectors.
	Detectors []bypass.Detector
	Logger    *slog.Logger
}

// Page is a fetched HTTP response.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Blocked    bool
	BlockedBy  string
}

// Fetcher performs single URL fetches with browser-like headers and TLS.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher initializes a new Fetcher with the given configuration.
// By holding a single client across requests, cookie jars (if configured) persist for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	if cfg.Proxies != nil && cfg.Proxies.Len() > 0 {
		base, ok := transport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("scraper: fingerprint transport %T cannot be proxied", transport)
		}
		transport = proxy.NewRotating(cfg.Proxies, base)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}

	return &Fetcher{config: cfg, client: client, logger: cfg.Logger}, nil
}

// UserAgents exposes the pool so callers can reuse it for other requests.
func (f *Fetcher) UserAgents() *useragent.Pool {
	return f.config.UAPool
}

// Client returns the underlying HTTP client.
func (f *Fetcher) Client() *httpclient.Client {
	return f.client
}

// Fetch GETs targetURL. When the server answered, the Page is returned even
// alongside an error so callers can inspect the status. Non-2xx statuses are
// classified with apperr.FromStatus; a bot challenge becomes a rate-limit
// error for Google and a transient error elsewhere.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	const op = "scraper.fetch"

	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.New(apperr.KindValidation, op, fmt.Sprintf("invalid url %q", targetURL))
	}

	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scraper: rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	f.config.UAPool.Apply(req)

	start := time.Now()
	resp, err := f.client.Read(ctx, req)
	if err != nil {
		metrics.RecordScrape(u.Hostname(), 0, "", 0, time.Since(start))
		f.logger.Debug("fetch failed", "url", targetURL, "err", err)
		return nil, apperr.Classify(op, err)
	}

	page := &Page{
		URL:        targetURL,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
		Duration:   resp.Duration,
	}
	if page.FinalURL == "" {
		page.FinalURL = targetURL
	}

	page.Blocked, page.BlockedBy = bypass.Analyze(&bypass.Response{
		URL:        page.FinalURL,
		StatusCode: page.StatusCode,
		Header:     page.Headers,
		Body:       page.Body,
	}, f.config.Detectors)

	metrics.RecordScrape(u.Hostname(), page.StatusCode, page.BlockedBy, len(page.Body), page.Duration)

	if page.Blocked {
		f.logger.Warn("bot challenge detected", "url", targetURL, "source", page.BlockedBy, "status", page.StatusCode)
		kind := apperr.KindTransient
		if page.BlockedBy == bypass.SourceGoogle {
			kind = apperr.KindRateLimit
		}
		return page, apperr.New(kind, op, fmt.Sprintf("challenged by %s", page.BlockedBy))
	}

	if !resp.OK() {
		return page, apperr.FromStatus(op, page.StatusCode, string(page.Body))
	}
	return page, nil
}
