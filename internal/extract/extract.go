package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/scraper"
	"github.com/FranksOps/quill/internal/serp"
	"github.com/PuerkitoBio/goquery"
)

// Reference is the text scraped from one search result, used as synthesis input.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// PageFetcher fetches a single page. *scraper.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Page, error)
}

// Config configures an Extractor.
type Config struct {
	// MinLength is the container threshold; 0 means ReferenceMinLength.
	MinLength int
	// Robots, when set, rejects URLs disallowed by robots.txt.
	Robots *scraper.RobotsTxtAuditor
	Logger *slog.Logger
}

// Extractor turns web pages into plain body text.
type Extractor struct {
	fetcher   PageFetcher
	robots    *scraper.RobotsTxtAuditor
	minLength int
	logger    *slog.Logger
}

// New creates an Extractor that fetches pages through fetcher.
func New(fetcher PageFetcher, cfg Config) *Extractor {
	if cfg.MinLength <= 0 {
		cfg.MinLength = ReferenceMinLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		fetcher:   fetcher,
		robots:    cfg.Robots,
		minLength: cfg.MinLength,
		logger:    cfg.Logger,
	}
}

// Extract fetches url and returns its main text. Fetch failures are
// returned; a page with no qualifying text yields "" and no error.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	doc, err := e.document(ctx, url)
	if err != nil {
		return "", err
	}
	return Text(doc, e.minLength), nil
}

// Reference extracts the page behind a search result. An empty extraction is
// an incomplete error so callers can discard the reference.
func (e *Extractor) Reference(ctx context.Context, r serp.Result) (Reference, error) {
	text, err := e.Extract(ctx, r.URL)
	if err != nil {
		return Reference{}, err
	}
	if text == "" {
		return Reference{}, apperr.New(apperr.KindIncomplete, "extract.reference", "no content extracted from "+r.URL)
	}
	return Reference{Title: r.Title, URL: r.URL, Content: text}, nil
}

func (e *Extractor) document(ctx context.Context, url string) (*goquery.Document, error) {
	if e.robots != nil {
		if err := e.robots.Check(ctx, url); err != nil {
			return nil, err
		}
	}

	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIncomplete, "extract.parse", fmt.Errorf("%s: %w", url, err))
	}
	return doc, nil
}
