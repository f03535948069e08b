package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/analyzer"
	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/extract"
	"github.com/FranksOps/quill/internal/metrics"
	"github.com/FranksOps/quill/internal/serp"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/FranksOps/quill/internal/synth"
	"github.com/FranksOps/quill/pkg/ratelimit"
	"github.com/google/uuid"
)

// ErrSynthesizerUnavailable aborts a run whose connectivity check failed.
var ErrSynthesizerUnavailable = errors.New("pipeline: synthesizer connectivity check failed")

// Defaults for Config.
const (
	DefaultBatchSize         = 5
	DefaultResultsPerArticle = 2
	DefaultScrapeDelay       = time.Second
	DefaultArticleDelay      = 3 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
)

// State is the stage an article has reached.
type State string

const (
	StatePending      State = "pending"
	StateSearching    State = "searching"
	StateScraping     State = "scraping"
	StateSynthesizing State = "synthesizing"
	StatePublishing   State = "publishing"
	StateDone         State = "done"
	StateSkipped      State = "skipped"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// SourceStore supplies the articles to optimize.
type SourceStore interface {
	FindSources(ctx context.Context, filter storage.Filter) ([]*storage.Article, error)
}

// Publisher stores an optimized derivative.
type Publisher interface {
	CreateDerivative(ctx context.Context, a *storage.Article) (*storage.Article, error)
}

// Searcher finds reference candidates for a title.
type Searcher = serp.Provider

// ReferenceFetcher scrapes one search result into a reference.
type ReferenceFetcher interface {
	Reference(ctx context.Context, r serp.Result) (extract.Reference, error)
}

// Synthesizer exposes the synthesis tiers in escalation order.
type Synthesizer interface {
	Attempts() []synth.Attempt
	Test(ctx context.Context) bool
}

// Config holds the orchestrator's collaborators and tunables. Zero durations
// and sizes take the package defaults; use a negative delay to disable it.
type Config struct {
	Sources     SourceStore
	Publisher   Publisher
	Searcher    Searcher
	References  ReferenceFetcher
	Synthesizer Synthesizer
	Sleeper     ratelimit.Sleeper
	Logger      *slog.Logger

	BatchSize         int
	ResultsPerArticle int
	ScrapeDelay       time.Duration
	ArticleDelay      time.Duration
	RateLimitCooldown time.Duration
	// CheckSynthesizer runs Synthesizer.Test before the batch.
	CheckSynthesizer bool
}

// Outcome is the terminal result for one source article.
type Outcome struct {
	ArticleID    string              `json:"articleId"`
	Title        string              `json:"title"`
	URL          string              `json:"url"`
	State        State               `json:"state"`
	Cause        string              `json:"cause,omitempty"`
	References   []storage.Reference `json:"references,omitempty"`
	Tier         string              `json:"tier,omitempty"`
	DerivativeID string              `json:"derivativeId,omitempty"`
	WordCount    int                 `json:"wordCount,omitempty"`
	Coverage     float64             `json:"coverage,omitempty"`
	RateLimited  bool                `json:"rateLimited,omitempty"`
	Duration     time.Duration       `json:"duration"`

	// Err is the error behind a Failed or Skipped outcome.
	Err error `json:"-"`
}

// Report is the result of one batch.
type Report struct {
	RunID      string     `json:"runId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Outcomes   []*Outcome `json:"outcomes"`
}

// Count returns the number of outcomes in state s.
func (r *Report) Count(s State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Orchestrator runs optimization batches.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Sources == nil:
		return nil, fmt.Errorf("pipeline: source store is required")
	case cfg.Publisher == nil:
		return nil, fmt.Errorf("pipeline: publisher is required")
	case cfg.Searcher == nil:
		return nil, fmt.Errorf("pipeline: searcher is required")
	case cfg.References == nil:
		return nil, fmt.Errorf("pipeline: reference fetcher is required")
	case cfg.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ResultsPerArticle <= 0 {
		cfg.ResultsPerArticle = DefaultResultsPerArticle
	}
	cfg.ScrapeDelay = orDefault(cfg.ScrapeDelay, DefaultScrapeDelay)
	cfg.ArticleDelay = orDefault(cfg.ArticleDelay, DefaultArticleDelay)
	cfg.RateLimitCooldown = orDefault(cfg.RateLimitCooldown, DefaultRateLimitCooldown)
	if cfg.Sleeper == nil {
		cfg.Sleeper = ratelimit.TimerSleeper{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger, now: time.Now}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}

// Run optimizes one batch of source articles. Only startup failures and
// cancellation return an error; per-article failures are recorded as
// outcomes. The report is non-nil whenever the batch was fetched.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: o.now()}
	log := o.logger.With("run_id", report.RunID)

	if o.cfg.CheckSynthesizer && !o.cfg.Synthesizer.Test(ctx) {
		return nil, ErrSynthesizerUnavailable
	}

	batch, err := o.cfg.Sources.FindSources(ctx, storage.Filter{
		IsOriginal: storage.Bool(true),
		Limit:      o.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch batch: %w", err)
	}
	log.Info("starting batch", "articles", len(batch))

	for i, src := range batch {
		if err := ctx.Err(); err != nil {
			o.abandon(report, batch[i:], err)
			report.FinishedAt = o.now()
			return report, err
		}

		out := o.process(ctx, src)
		report.Outcomes = append(report.Outcomes, out)
		o.logOutcome(log, out)
		metrics.RecordOutcome(string(out.State))

		if i == len(batch)-1 {
			break
		}
		if out.RateLimited && o.cfg.RateLimitCooldown > 0 {
			log.Warn("rate limit observed, cooling down", "article_id", src.ID, "cooldown", o.cfg.RateLimitCooldown)
			if err := o.cfg.Sleeper.Sleep(ctx, o.cfg.RateLimitCooldown); err != nil {
				o.abandon(report, batch[i+1:], err)
				report.FinishedAt = o.now()
				return report, err
			}
		}
		if err := o.cfg.Sleeper.Sleep(ctx, o.cfg.ArticleDelay); err != nil {
			o.abandon(report, batch[i+1:], err)
			report.FinishedAt = o.now()
			return report, err
		}
	}

	report.FinishedAt = o.now()
	log.Info("batch finished",
		"done", report.Count(StateDone),
		"skipped", report.Count(StateSkipped),
		"failed", report.Count(StateFailed),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// abandon records the articles a cancelled run never reached.
func (o *Orchestrator) abandon(report *Report, rest []*storage.Article, cause error) {
	for _, src := range rest {
		out := &Outcome{ArticleID: src.ID, Title: src.Title, URL: src.URL, State: StateFailed, Err: cause, Cause: cause.Error()}
		report.Outcomes = append(report.Outcomes, out)
		o.logOutcome(o.logger, out)
		metrics.RecordOutcome(string(out.State))
	}
}

func (o *Orchestrator) logOutcome(log *slog.Logger, out *Outcome) {
	attrs := []any{
		"article_id", out.ArticleID,
		"title", out.Title,
		"state", out.State,
		"references", len(out.References),
		"duration", out.Duration,
	}
	switch out.State {
	case StateDone:
		log.Info("article optimized", append(attrs, "derivative_id", out.DerivativeID, "tier", out.Tier)...)
	case StateSkipped:
		log.Warn("article skipped", append(attrs, "cause", out.Cause)...)
	default:
		log.Error("article failed", append(attrs, "cause", out.Cause, "rate_limited", out.RateLimited)...)
	}
}

// process drives one article to a terminal state.
func (o *Orchestrator) process(ctx context.Context, src *storage.Article) *Outcome {
	start := o.now()
	out := &Outcome{ArticleID: src.ID, Title: src.Title, URL: src.URL, State: StatePending}
	log := o.logger.With("article_id", src.ID)

	finish := func(state State, err error) *Outcome {
		out.State = state
		out.Duration = o.now().Sub(start)
		if err != nil {
			out.Err = err
			out.Cause = err.Error()
			if apperr.IsRateLimit(err) || apperr.MentionsRateLimit(err) {
				out.RateLimited = true
			}
		}
		return out
	}

	out.State = StateSearching
	t := time.Now()
	results, err := o.cfg.Searcher.Search(ctx, src.Title, o.cfg.ResultsPerArticle)
	metrics.ObserveStage(string(StateSearching), time.Since(t))
	if err != nil {
		return finish(StateFailed, fmt.Errorf("search: %w", err))
	}
	if len(results) == 0 {
		return finish(StateSkipped, apperr.New(apperr.KindIncomplete, "pipeline.search", "no search results"))
	}

	out.State = StateScraping
	t = time.Now()
	refs, err := o.scrape(ctx, log, results)
	metrics.ObserveStage(string(StateScraping), time.Since(t))
	if err != nil {
		return finish(StateFailed, err)
	}
	if len(refs) == 0 {
		return finish(StateSkipped, apperr.New(apperr.KindIncomplete, "pipeline.scrape", "no usable references"))
	}
	for _, r := range refs {
		out.References = append(out.References, storage.Reference{Title: r.Title, URL: r.URL})
	}

	out.State = StateSynthesizing
	t = time.Now()
	body, tier, rateLimited, err := o.synthesize(ctx, log, synth.Input{Title: src.Title, Body: src.Content, References: refs})
	metrics.ObserveStage(string(StateSynthesizing), time.Since(t))
	out.RateLimited = rateLimited
	if err != nil {
		return finish(StateFailed, fmt.Errorf("synthesize: %w", err))
	}
	out.Tier = tier

	out.State = StatePublishing
	optimized := body + FormatReferences(out.References)
	stats := analyzer.Analyze(body, analyzer.TitleTerms(src.Title))
	out.WordCount = stats.Words
	out.Coverage = stats.Coverage(len(analyzer.TitleTerms(src.Title)))

	t = time.Now()
	created, err := o.cfg.Publisher.CreateDerivative(ctx, &storage.Article{
		Title:            src.Title,
		Content:          src.Content,
		OptimizedContent: optimized,
		URL:              DerivativeURL(src.URL, o.now()),
		Author:           src.Author,
		IsOriginal:       false,
		OriginalID:       src.ID,
		References:       out.References,
		WordCount:        stats.Words,
		ReadingMinutes:   stats.ReadingMinutes,
	})
	metrics.ObserveStage(string(StatePublishing), time.Since(t))
	if err != nil {
		return finish(StateFailed, fmt.Errorf("publish: %w", err))
	}
	out.DerivativeID = created.ID
	return finish(StateDone, nil)
}

// scrape fetches each result in search order, pacing between fetches.
// Individual failures are discarded; only cancellation is returned.
func (o *Orchestrator) scrape(ctx context.Context, log *slog.Logger, results []serp.Result) ([]extract.Reference, error) {
	pacer := ratelimit.NewPacer(o.cfg.ScrapeDelay, o.cfg.Sleeper)
	var refs []extract.Reference
	for _, r := range results {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		ref, err := o.cfg.References.Reference(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if apperr.IsIncomplete(err) || apperr.IsValidation(err) {
				log.Debug("reference discarded", "url", r.URL, "err", err)
			} else {
				log.Warn("reference scrape failed", "url", r.URL, "err", err)
			}
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// synthesize runs the primary tier and escalates on rate limiting: secondary
// first, then minimal if the secondary fails for any reason. Other primary
// failures are returned as is.
func (o *Orchestrator) synthesize(ctx context.Context, log *slog.Logger, in synth.Input) (string, string, bool, error) {
	attempts := o.cfg.Synthesizer.Attempts()
	if len(attempts) == 0 {
		return "", "", false, apperr.New(apperr.KindInternal, "pipeline.synthesize", "no synthesis tiers configured")
	}

	body, err := attempts[0].Run(ctx, in)
	if err == nil {
		return body, attempts[0].Name(), false, nil
	}
	if !apperr.IsRateLimit(err) && !apperr.MentionsRateLimit(err) {
		return "", "", false, err
	}

	for _, a := range attempts[1:] {
		log.Warn("escalating synthesis", "from_err", err, "tier", a.Name())
		body, err = a.Run(ctx, in)
		if err == nil {
			return body, a.Name(), true, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", true, err
}

// FormatReferences renders the numbered markdown references section appended
// to an optimized body. It returns "" for no references.
func FormatReferences(refs []storage.Reference) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n---\n\n## References\n\n")
	for i, r := range refs {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, escapeLinkText(title), r.URL)
	}
	return b.String()
}

var linkTextEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)

func escapeLinkText(s string) string {
	return linkTextEscaper.Replace(s)
}

// DerivativeURL makes a unique URL for an optimized copy of sourceURL.
func DerivativeURL(sourceURL string, now time.Time) string {
	return fmt.Sprintf("%s-optimized-%d", sourceURL, now.UnixMilli())
}
