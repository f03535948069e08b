package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/oxffaa/gopher-parse-sitemap"
)

// maxSitemapDepth bounds how many index levels FetchSitemap follows.
const maxSitemapDepth = 3

// SitemapFetcher discovers article URLs from sitemaps and sitemap indexes.
type SitemapFetcher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchSitemap fetches a sitemap or sitemap index and returns the page URLs in
// document order, without duplicates.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	seen := make(map[string]bool)
	return s.fetch(ctx, sitemapURL, 0, seen)
}

func (s *SitemapFetcher) fetch(ctx context.Context, sitemapURL string, depth int, seen map[string]bool) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	page, err := s.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("scraper: sitemap %s: %w", sitemapURL, err)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(page.Body), func(e sitemap.Entry) error {
		if loc := e.GetLocation(); loc != "" && !seen[loc] {
			seen[loc] = true
			urls = append(urls, loc)
		}
		return nil
	})
	if err == nil && len(urls) > 0 {
		return urls, nil
	}

	// Possibly a sitemap index
	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(page.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		return nil, fmt.Errorf("scraper: failed to parse as sitemap or index: %s", sitemapURL)
	}
	if depth >= maxSitemapDepth {
		s.logger.Warn("sitemap index nesting too deep", "url", sitemapURL)
		return nil, nil
	}

	for _, nestedURL := range nested {
		nestedURLs, err := s.fetch(ctx, nestedURL, depth+1, seen)
		if err != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", err)
			continue
		}
		urls = append(urls, nestedURLs...)
	}
	return urls, nil
}
