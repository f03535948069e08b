//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/FranksOps/quill/internal/extract"
	"github.com/FranksOps/quill/internal/fingerprint"
	"github.com/FranksOps/quill/internal/llm"
	"github.com/FranksOps/quill/internal/pipeline"
	"github.com/FranksOps/quill/internal/report"
	"github.com/FranksOps/quill/internal/scraper"
	"github.com/FranksOps/quill/internal/serp"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/FranksOps/quill/internal/storage/sqlite"
	"github.com/FranksOps/quill/internal/synth"
)

const (
	primaryModel   = "acme/primary"
	secondaryModel = "acme/secondary"
	minimalModel   = "acme/minimal"
)

var paragraph = strings.Repeat("Grinding fresh beans right before brewing keeps the aroma intact. ", 6)

// site serves a fake results page, two reference articles and a fake
// inference API from one server.
type site struct {
	srv *httptest.Server

	mu        sync.Mutex
	prompts   map[string][]string
	limited   map[string]bool
	searchHit int
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{prompts: map[string][]string{}, limited: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.searchHit++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><div id="search">
<div class="g"><a href="%[1]s/ref/one"><h3>Brewing Basics</h3></a><div class="VwiC3b">Start here.</div></div>
<div class="g"><a href="%[1]s/ref/two"><h3>Bean Storage</h3></a></div>
</div></body></html>`, s.srv.URL)
	})
	mux.HandleFunc("/ref/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><nav>menu</nav><article><h1>%s</h1><p>%s</p></article></body></html>`,
			r.URL.Path, paragraph)
	})
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		model := strings.TrimPrefix(r.URL.Path, "/models/")
		var payload struct {
			Inputs string `json:"inputs"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)

		s.mu.Lock()
		s.prompts[model] = append(s.prompts[model], payload.Inputs)
		limited := s.limited[model]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if limited {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"Rate limit reached. Please slow down."}`)
			return
		}
		fmt.Fprintf(w, `[{"generated_text":"  # Better Coffee\n\nRewritten by %s. Fresh beans matter.  "}]`, model)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) limit(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited[model] = true
}

func (s *site) promptsFor(model string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[model]...)
}

type harness struct {
	site  *site
	store *storage.Store
	orch  *pipeline.Orchestrator
}

func newHarness(t *testing.T, s *site, check bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := sqlite.New(filepath.Join(t.TempDir(), "quill.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	store := storage.NewStore(backend)

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Fingerprint: fingerprint.ProfileGo,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}

	google, err := serp.NewGoogleScrape(serp.GoogleConfig{
		BaseURL: s.srv.URL,
		Fetcher: fetcher,
		Retries: -1,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("google: %v", err)
	}

	inference, err := llm.NewHuggingFace(llm.Config{
		BaseURL: s.srv.URL,
		APIKey:  "test-key",
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("llm: %v", err)
	}

	orch, err := pipeline.New(pipeline.Config{
		Sources:    store,
		Publisher:  store,
		Searcher:   google,
		References: extract.New(fetcher, extract.Config{Logger: logger}),
		Synthesizer: synth.New(inference, synth.Config{
			PrimaryModel:   primaryModel,
			SecondaryModel: secondaryModel,
			MinimalModel:   minimalModel,
			Logger:         logger,
		}),
		Logger:            logger,
		ResultsPerArticle: 2,
		ScrapeDelay:       -1,
		ArticleDelay:      -1,
		RateLimitCooldown: -1,
		CheckSynthesizer:  check,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &harness{site: s, store: store, orch: orch}
}

func (h *harness) seed(t *testing.T, title string) *storage.Article {
	t.Helper()
	src := &storage.Article{
		Title:      title,
		Content:    "Coffee is better when the beans are fresh.",
		URL:        h.site.srv.URL + "/blog/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Author:     "Dana",
		IsOriginal: true,
	}
	if err := h.store.SaveSource(context.Background(), src); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return src
}

func (h *harness) derivatives(t *testing.T, originalID string) []*storage.Article {
	t.Helper()
	out, err := h.store.Backend().Query(context.Background(), storage.Filter{OriginalID: originalID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return out
}

func TestIntegration_OptimizesStoredArticle(t *testing.T) {
	s := newSite(t)
	h := newHarness(t, s, true)
	src := h.seed(t, "Brewing Better Coffee")

	rep, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(rep.Outcomes))
	}
	out := rep.Outcomes[0]
	if out.State != pipeline.StateDone || out.Tier != synth.TierPrimary {
		t.Fatalf("unexpected outcome: %+v (err %v)", out, out.Err)
	}
	if len(out.References) != 2 {
		t.Fatalf("expected 2 references, got %d", len(out.References))
	}

	prompts := s.promptsFor(primaryModel)
	// connectivity check plus the article itself
	if len(prompts) != 2 {
		t.Fatalf("expected 2 primary calls, got %d", len(prompts))
	}
	if !strings.Contains(prompts[1], "Title: Brewing Better Coffee") || !strings.Contains(prompts[1], "Reference 2: Bean Storage") {
		t.Errorf("prompt missing title or references:\n%s", prompts[1])
	}

	derived := h.derivatives(t, src.ID)
	if len(derived) != 1 {
		t.Fatalf("expected 1 derivative, got %d", len(derived))
	}
	d := derived[0]
	if d.IsOriginal || d.ID != out.DerivativeID {
		t.Errorf("derivative not linked: %+v", d)
	}
	if d.Title != src.Title || d.Content != src.Content || d.Author != "Dana" {
		t.Errorf("derivative did not carry source fields: %+v", d)
	}
	if !strings.HasPrefix(d.OptimizedContent, "# Better Coffee\n\nRewritten by "+primaryModel) {
		t.Errorf("optimized content not trimmed model output: %q", d.OptimizedContent)
	}
	if !strings.Contains(d.OptimizedContent, "## References\n\n1. [Brewing Basics]("+s.srv.URL+"/ref/one)") {
		t.Errorf("references section missing: %q", d.OptimizedContent)
	}
	if !strings.HasPrefix(d.URL, src.URL+"-optimized-") {
		t.Errorf("derivative URL = %q", d.URL)
	}
	if len(d.References) != 2 || d.References[1].URL != s.srv.URL+"/ref/two" {
		t.Errorf("stored references = %+v", d.References)
	}
}

func TestIntegration_RateLimitedPrimaryUsesSecondary(t *testing.T) {
	s := newSite(t)
	s.limit(primaryModel)
	h := newHarness(t, s, false)
	src := h.seed(t, "Storing Coffee Beans")

	rep, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := rep.Outcomes[0]
	if out.State != pipeline.StateDone || out.Tier != synth.TierSecondary || !out.RateLimited {
		t.Fatalf("unexpected outcome: %+v (err %v)", out, out.Err)
	}
	if n := len(s.promptsFor(minimalModel)); n != 0 {
		t.Errorf("minimal model should not run, got %d calls", n)
	}

	derived := h.derivatives(t, src.ID)
	if len(derived) != 1 || !strings.Contains(derived[0].OptimizedContent, "Rewritten by "+secondaryModel) {
		t.Fatalf("expected secondary derivative, got %+v", derived)
	}

	sum := report.GenerateSummary(rep)
	if sum.Done != 1 || sum.RateLimited != 1 || sum.ByTier[synth.TierSecondary] != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestIntegration_AllTiersRateLimited(t *testing.T) {
	s := newSite(t)
	for _, m := range []string{primaryModel, secondaryModel, minimalModel} {
		s.limit(m)
	}
	h := newHarness(t, s, false)
	src := h.seed(t, "Cold Brew Guide")

	rep, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rep.Count(pipeline.StateFailed); got != 1 {
		t.Fatalf("expected 1 failed outcome, got %d", got)
	}
	minimal := s.promptsFor(minimalModel)
	if len(minimal) != 1 || strings.Contains(minimal[0], "Reference articles:") {
		t.Errorf("minimal prompt should omit references: %q", minimal)
	}
	if derived := h.derivatives(t, src.ID); len(derived) != 0 {
		t.Errorf("no derivative expected, got %d", len(derived))
	}
}

func TestIntegration_FailedCheckStopsRun(t *testing.T) {
	s := newSite(t)
	s.limit(primaryModel)
	h := newHarness(t, s, true)
	h.seed(t, "Espresso At Home")

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected the run to abort")
	}
	if s.searchHit != 0 {
		t.Errorf("search should not run after a failed check, got %d hits", s.searchHit)
	}
}
