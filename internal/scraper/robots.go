package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/temoto/robotstxt"
)

// RobotsTxtAuditor fetches and caches robots.txt per host.
type RobotsTxtAuditor struct {
	fetcher *Fetcher
	agent   string
	logger  *slog.Logger
	mu      sync.Mutex
	cache   map[string]*robotstxt.RobotsData
}

// NewRobotsTxtAuditor creates an auditor that evaluates rules for agent.
func NewRobotsTxtAuditor(fetcher *Fetcher, agent string, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	if agent == "" {
		agent = "*"
	}
	return &RobotsTxtAuditor{
		fetcher: fetcher,
		agent:   agent,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed reports whether targetURL may be fetched by userAgent. A missing
// or unreachable robots.txt allows everything.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return false, apperr.New(apperr.KindValidation, "scraper.robots", fmt.Sprintf("invalid url %q", targetURL))
	}

	host := u.Scheme + "://" + u.Host
	data := r.getOrFetch(ctx, host)
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(userAgent).Test(path), nil
}

// Check returns a validation error when targetURL is disallowed for the
// auditor's agent.
func (r *RobotsTxtAuditor) Check(ctx context.Context, targetURL string) error {
	allowed, err := r.IsAllowed(ctx, targetURL, r.agent)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindValidation, "scraper.robots", "disallowed by robots.txt: "+targetURL)
	}
	return nil
}

// getOrFetch returns the parsed robots.txt for host, or nil when there is none.
// Failures are cached as nil so each host is only tried once.
func (r *RobotsTxtAuditor) getOrFetch(ctx context.Context, host string) *robotstxt.RobotsData {
	r.mu.Lock()
	defer r.mu.Unlock()

	if data, ok := r.cache[host]; ok {
		return data
	}

	robotsURL := host + "/robots.txt"
	page, err := r.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, defaulting to allow", "host", host, "err", err)
		r.cache[host] = nil
		return nil
	}

	parsed, err := robotstxt.FromBytes(page.Body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed, defaulting to allow", "host", host, "err", err)
		r.cache[host] = nil
		return nil
	}

	r.cache[host] = parsed
	return parsed
}

// Sitemaps returns the sitemap URLs listed in host's robots.txt.
func (r *RobotsTxtAuditor) Sitemaps(ctx context.Context, host string) []string {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	data := r.getOrFetch(ctx, strings.TrimRight(host, "/"))
	if data == nil {
		return nil
	}
	return data.Sitemaps
}
