package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/scraper"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/PuerkitoBio/goquery"
)

// DefaultLinkSelector picks article links on a blog listing page.
const DefaultLinkSelector = "article a[href], h2 a[href], h3 a[href], a[rel=bookmark]"

// SitemapSource lists page URLs from a sitemap. *scraper.SitemapFetcher implements it.
type SitemapSource interface {
	FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error)
}

// DiscoverConfig configures a Discoverer.
type DiscoverConfig struct {
	// Sources are listing pages, sitemap URLs or robots.txt URLs (whose
	// Sitemap lines are followed), visited in order.
	Sources      []string
	LinkSelector string
	// MinLength is the container threshold; 0 means DiscoveryMinLength.
	MinLength int
	Sitemaps  SitemapSource
	Robots    *scraper.RobotsTxtAuditor
	Logger    *slog.Logger
}

// Discoverer scrapes listing pages to find original articles.
type Discoverer struct {
	fetcher      PageFetcher
	sources      []string
	linkSelector string
	minLength    int
	sitemaps     SitemapSource
	robots       *scraper.RobotsTxtAuditor
	logger       *slog.Logger
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(fetcher PageFetcher, cfg DiscoverConfig) *Discoverer {
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = DefaultLinkSelector
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DiscoveryMinLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discoverer{
		fetcher:      fetcher,
		sources:      cfg.Sources,
		linkSelector: cfg.LinkSelector,
		minLength:    cfg.MinLength,
		sitemaps:     cfg.Sitemaps,
		robots:       cfg.Robots,
		logger:       cfg.Logger,
	}
}

// Discover collects article URLs from the sources in document order, keeps
// the last limit of them and scrapes each. Pages that fail to fetch or lack a
// title or body are logged and skipped. The returned articles are not stored.
func (d *Discoverer) Discover(ctx context.Context, limit int) ([]*storage.Article, error) {
	if limit <= 0 {
		return nil, apperr.New(apperr.KindValidation, "extract.discover", fmt.Sprintf("limit must be positive, got %d", limit))
	}
	if len(d.sources) == 0 {
		return nil, apperr.New(apperr.KindValidation, "extract.discover", "no discovery sources configured")
	}

	var links []string
	seen := make(map[string]bool)
	for _, src := range d.sources {
		found, err := d.collect(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("listing source failed", "source", src, "err", err)
			continue
		}
		for _, l := range found {
			if !seen[l] {
				seen[l] = true
				links = append(links, l)
			}
		}
	}

	// The most recent entries sit at the end of the listings we target.
	if len(links) > limit {
		links = links[len(links)-limit:]
	}

	var articles []*storage.Article
	for _, link := range links {
		a, err := d.article(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return articles, ctx.Err()
			}
			d.logger.Warn("skipping discovered article", "url", link, "err", err)
			continue
		}
		articles = append(articles, a)
	}

	d.logger.Info("discovery complete", "links", len(links), "articles", len(articles))
	return articles, nil
}

func (d *Discoverer) collect(ctx context.Context, src string) ([]string, error) {
	if d.sitemaps != nil && d.robots != nil && isRobotsFile(src) {
		return d.robotsSitemaps(ctx, src)
	}
	if d.sitemaps != nil && isSitemap(src) {
		return d.sitemaps.FetchSitemap(ctx, src)
	}

	page, err := d.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse listing %s: %w", src, err)
	}

	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var links []string
	doc.Find(d.linkSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := resolve(base, href)
		if abs == "" || abs == base.String() {
			return
		}
		links = append(links, abs)
	})
	return links, nil
}

func (d *Discoverer) article(ctx context.Context, link string) (*storage.Article, error) {
	if d.robots != nil {
		if err := d.robots.Check(ctx, link); err != nil {
			return nil, err
		}
	}

	page, err := d.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIncomplete, "extract.discover", err)
	}

	// Metadata is read before Text strips header and footer chrome.
	title := firstText(doc, "h1")
	if title == "" {
		title = attr(doc, `meta[property="og:title"]`, "content")
	}
	if title == "" {
		title = firstText(doc, "title")
	}
	author := attr(doc, `meta[name="author"]`, "content")
	if author == "" {
		author = firstText(doc, `[rel="author"]`)
	}
	if author == "" {
		author = firstText(doc, ".author")
	}
	published := publishedAt(doc)

	content := Text(doc, d.minLength)

	if title == "" || content == "" {
		return nil, apperr.New(apperr.KindIncomplete, "extract.discover", "missing title or content: "+link)
	}

	return &storage.Article{
		Title:       title,
		Content:     content,
		URL:         link,
		Author:      author,
		PublishedAt: published,
		IsOriginal:  true,
	}, nil
}

// robotsSitemaps expands a robots.txt source into the pages of the sitemaps
// it lists. A sitemap that fails is logged and skipped.
func (d *Discoverer) robotsSitemaps(ctx context.Context, src string) ([]string, error) {
	host := strings.TrimSuffix(src, "/robots.txt")
	maps := d.robots.Sitemaps(ctx, host)
	if len(maps) == 0 {
		return nil, apperr.New(apperr.KindIncomplete, "extract.discover", "no sitemaps listed in "+src)
	}

	var links []string
	for _, sm := range maps {
		found, err := d.sitemaps.FetchSitemap(ctx, sm)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("sitemap from robots.txt failed", "sitemap", sm, "err", err)
			continue
		}
		links = append(links, found...)
	}
	return links, nil
}

func isRobotsFile(src string) bool {
	u, err := url.Parse(src)
	return err == nil && strings.EqualFold(u.Path, "/robots.txt")
}

func isSitemap(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".xml") || strings.Contains(p, "sitemap")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if abs.Host != base.Host {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func firstText(doc *goquery.Document, sel string) string {
	return Normalize(doc.Find(sel).First().Text())
}

func attr(doc *goquery.Document, sel, name string) string {
	v, _ := doc.Find(sel).First().Attr(name)
	return strings.TrimSpace(v)
}

func publishedAt(doc *goquery.Document) *time.Time {
	raw := attr(doc, `meta[property="article:published_time"]`, "content")
	if raw == "" {
		raw = attr(doc, "time[datetime]", "datetime")
	}
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
