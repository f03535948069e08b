package serp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/FranksOps/quill/internal/apperr"
)

const (
	// MaxLimit is the largest result count a caller may request.
	MaxLimit = 20
	// MaxSnippetLength caps sanitized titles and snippets, in characters.
	MaxSnippetLength = 500
)

// Result is one organic search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider abstracts a search engine. Implementations return at most limit
// filtered, sanitized results in ranking order.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// DefaultExclusions are hosts whose pages are not useful as references.
var DefaultExclusions = []string{
	"youtube.com",
	"youtu.be",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"linkedin.com",
	"pinterest.com",
	"reddit.com",
}

// Validate rejects an empty query or a limit outside 1..MaxLimit.
func Validate(query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return apperr.New(apperr.KindValidation, "serp.search", "query must not be empty")
	}
	if limit < 1 || limit > MaxLimit {
		return apperr.New(apperr.KindValidation, "serp.search", fmt.Sprintf("limit must be between 1 and %d, got %d", MaxLimit, limit))
	}
	return nil
}

// Classify folds a provider failure into the search taxonomy: validation
// (400), auth (401), rate_limit (429) or transient (500). Any other kind, and
// unclassified errors, become transient. Cancellation passes through.
func Classify(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindValidation, apperr.KindAuth, apperr.KindRateLimit, apperr.KindTransient:
			return err
		}
	}
	return apperr.Wrap(apperr.KindTransient, op, err)
}

// Filter drops excluded hosts and duplicate URLs and sanitizes text fields.
type Filter struct {
	exclude []string
}

// NewFilter builds a Filter over DefaultExclusions, the site's own domain and
// any extra hosts. Empty entries are ignored.
func NewFilter(siteDomain string, extra ...string) *Filter {
	f := &Filter{}
	for _, h := range append(append(append([]string{}, DefaultExclusions...), siteDomain), extra...) {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
		if h != "" {
			f.exclude = append(f.exclude, h)
		}
	}
	return f
}

// Allowed reports whether rawURL is an http(s) URL outside the excluded hosts.
// A host matches an exclusion when it equals it or is a subdomain of it.
func (f *Filter) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, ex := range f.exclude {
		if host == ex || strings.HasSuffix(host, "."+ex) {
			return false
		}
	}
	return true
}

// Apply returns up to limit acceptable results in input order. Duplicates are
// detected on the URL without its fragment.
func (f *Filter) Apply(results []Result, limit int) []Result {
	c := f.collect(limit)
	for _, r := range results {
		if !c.add(r) {
			break
		}
	}
	return c.out
}

// collector accepts results one at a time until it holds limit of them.
type collector struct {
	f     *Filter
	limit int
	seen  map[string]bool
	out   []Result
}

func (f *Filter) collect(limit int) *collector {
	return &collector{f: f, limit: limit, seen: make(map[string]bool), out: make([]Result, 0, limit)}
}

// add keeps r if it is allowed and new. It reports whether more results are
// wanted.
func (c *collector) add(r Result) bool {
	if c.full() {
		return false
	}
	if c.f.Allowed(r.URL) {
		if key := dedupKey(r.URL); !c.seen[key] {
			c.seen[key] = true
			c.out = append(c.out, Result{
				Title:   Sanitize(r.Title),
				URL:     strings.TrimSpace(r.URL),
				Snippet: Sanitize(r.Snippet),
			})
		}
	}
	return !c.full()
}

func (c *collector) full() bool { return len(c.out) >= c.limit }

func dedupKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Sanitize strips control characters, collapses whitespace and truncates to
// MaxSnippetLength characters.
func Sanitize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := []rune(b.String())
	if len(out) > MaxSnippetLength {
		out = out[:MaxSnippetLength]
	}
	return strings.TrimSpace(string(out))
}
