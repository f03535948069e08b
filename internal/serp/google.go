package serp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/metrics"
	"github.com/FranksOps/quill/internal/scraper"
	"github.com/FranksOps/quill/pkg/retry"
	"github.com/PuerkitoBio/goquery"
)

const (
	defaultGoogleURL  = "https://www.google.com"
	defaultRetries    = 2
	defaultRetryDelay = time.Second
)

// Result containers in the order they are tried. Google's markup changes
// often; older layouts stay in the list after newer ones.
var containerSelectors = []string{
	"div.g",
	"div.tF2Cxc",
	"div.yuRUbf",
	"div.MjjYud",
	"div[data-sokoban-container]",
}

var snippetSelectors = []string{
	"div.VwiC3b",
	"span.aCOpRe",
	"div.IsZvec",
	"div[data-sncf]",
}

// PageFetcher fetches a single page. *scraper.Fetcher implements it and
// reports Google's captcha interstitial as a rate-limit error.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Page, error)
}

// GoogleConfig configures GoogleScrape.
type GoogleConfig struct {
	BaseURL string
	Fetcher PageFetcher
	Filter  *Filter
	// Retries for transient failures; 0 means 2, negative disables retrying.
	Retries    int
	RetryDelay time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
}

// GoogleScrape searches by scraping Google's HTML results page.
type GoogleScrape struct {
	baseURL string
	fetcher PageFetcher
	filter  *Filter
	retry   retry.Policy
	logger  *slog.Logger
}

// NewGoogleScrape creates a GoogleScrape provider.
func NewGoogleScrape(cfg GoogleConfig) (*GoogleScrape, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("serp: google: fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGoogleURL
	}
	if cfg.Filter == nil {
		cfg.Filter = NewFilter("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GoogleScrape{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: cfg.Fetcher,
		filter:  cfg.Filter,
		retry:   retryPolicy(cfg.Retries, cfg.RetryDelay, cfg.Sleep),
		logger:  cfg.Logger,
	}, nil
}

// Search implements Provider.
func (g *GoogleScrape) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := Validate(query, limit); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit*2))
	params.Set("hl", "en")
	searchURL := g.baseURL + "/search?" + params.Encode()

	var results []Result
	err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		page, err := g.fetcher.Fetch(ctx, searchURL)
		if err != nil {
			g.logger.Debug("google search attempt failed", "query", query, "attempt", attempt+1, "err", err)
			return err
		}
		results, err = ParseResults(page.Body, limit, g.filter)
		return err
	})
	metrics.RecordSearch("google", outcomeLabel(results, err))
	if err != nil {
		return nil, Classify("serp.google", err)
	}

	g.logger.Debug("google search complete", "query", query, "results", len(results))
	return results, nil
}

// ParseResults extracts up to limit results from a Google results page,
// keeping only those the filter allows. Containers are visited selector by
// selector and the walk stops as soon as limit distinct results are held.
func ParseResults(body []byte, limit int, f *Filter) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "serp.google.parse", err)
	}

	if f == nil {
		f = NewFilter("")
	}
	c := f.collect(limit)
	for _, sel := range containerSelectors {
		if c.full() {
			break
		}
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			r, ok := parseContainer(s)
			if !ok {
				return true
			}
			return c.add(r)
		})
	}
	return c.out, nil
}

func parseContainer(s *goquery.Selection) (Result, bool) {
	h3 := s.Find("h3").First()
	if h3.Length() == 0 {
		return Result{}, false
	}
	link := h3.Closest("a[href]")
	if link.Length() == 0 {
		link = s.Find("a[href]").First()
	}
	href, _ := link.Attr("href")
	href = unwrapRedirect(href)
	if href == "" {
		return Result{}, false
	}

	var snippet string
	for _, ss := range snippetSelectors {
		if t := strings.TrimSpace(s.Find(ss).First().Text()); t != "" {
			snippet = t
			break
		}
	}
	return Result{Title: strings.TrimSpace(h3.Text()), URL: href, Snippet: snippet}, true
}

// unwrapRedirect turns Google's /url?q=<target> links into the target URL.
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if !strings.HasPrefix(href, "/url?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	if target := q.Get("q"); target != "" {
		return target
	}
	return q.Get("url")
}

func retryPolicy(retries int, delay time.Duration, sleep func(context.Context, time.Duration) error) retry.Policy {
	switch {
	case retries == 0:
		retries = defaultRetries
	case retries < 0:
		retries = 0
	}
	if delay == 0 {
		delay = defaultRetryDelay
	}
	return retry.Policy{
		Retries:   retries,
		Delay:     delay,
		Retryable: apperr.IsTransient,
		Sleep:     sleep,
	}
}

func outcomeLabel(results []Result, err error) string {
	switch {
	case err != nil:
		return string(apperr.KindOf(err))
	case len(results) == 0:
		return "empty"
	default:
		return "ok"
	}
}
