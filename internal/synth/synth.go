package synth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/extract"
	"github.com/FranksOps/quill/internal/llm"
	"github.com/FranksOps/quill/internal/metrics"
)

// Tier names, in escalation order.
const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierMinimal   = "minimal"
)

// DefaultParams are the generation settings shared by every tier.
var DefaultParams = llm.Params{
	MaxNewTokens:      1024,
	Temperature:       0.7,
	TopP:              0.9,
	RepetitionPenalty: 1.1,
}

// Input is what a synthesis attempt works from.
type Input struct {
	Title      string
	Body       string
	References []extract.Reference
}

// Attempt is one way of producing a rewrite.
type Attempt interface {
	Name() string
	Run(ctx context.Context, in Input) (string, error)
}

type modelAttempt struct {
	name   string
	model  string
	client llm.Client
	params llm.Params
	prompt func(Input) string
}

func (a *modelAttempt) Name() string { return a.name }

func (a *modelAttempt) Run(ctx context.Context, in Input) (string, error) {
	out, err := a.client.Generate(ctx, llm.Request{
		Model:  a.model,
		Prompt: a.prompt(in),
		Params: a.params,
	})
	if err != nil {
		metrics.RecordSynthesis(a.name, string(apperr.KindOf(err)))
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		metrics.RecordSynthesis(a.name, string(apperr.KindIncomplete))
		return "", apperr.New(apperr.KindIncomplete, "synth."+a.name, "model returned no text")
	}
	metrics.RecordSynthesis(a.name, "ok")
	return out, nil
}

func fullPrompt(in Input) string    { return BuildPrompt(in.Title, in.Body, in.References) }
func minimalPrompt(in Input) string { return BuildMinimalPrompt(in.Title, in.Body) }

// Primary runs the full prompt against the primary model.
func Primary(client llm.Client, model string, params llm.Params) Attempt {
	return &modelAttempt{name: TierPrimary, model: model, client: client, params: params, prompt: fullPrompt}
}

// Secondary runs the full prompt against a smaller model.
func Secondary(client llm.Client, model string, params llm.Params) Attempt {
	return &modelAttempt{name: TierSecondary, model: model, client: client, params: params, prompt: fullPrompt}
}

// Minimal runs the short prompt, without references.
func Minimal(client llm.Client, model string, params llm.Params) Attempt {
	return &modelAttempt{name: TierMinimal, model: model, client: client, params: params, prompt: minimalPrompt}
}

// Config selects the model for each tier. Empty secondary and minimal models
// fall back to the primary model.
type Config struct {
	PrimaryModel   string
	SecondaryModel string
	MinimalModel   string
	// Params defaults to DefaultParams when MaxNewTokens is zero.
	Params llm.Params
	Logger *slog.Logger
}

// Synthesizer produces optimized article bodies.
type Synthesizer struct {
	client   llm.Client
	model    string
	attempts []Attempt
	logger   *slog.Logger
}

// New creates a Synthesizer.
func New(client llm.Client, cfg Config) *Synthesizer {
	if cfg.Params.MaxNewTokens == 0 {
		cfg.Params = DefaultParams
	}
	if cfg.SecondaryModel == "" {
		cfg.SecondaryModel = cfg.PrimaryModel
	}
	if cfg.MinimalModel == "" {
		cfg.MinimalModel = cfg.PrimaryModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{
		client: client,
		model:  cfg.PrimaryModel,
		attempts: []Attempt{
			Primary(client, cfg.PrimaryModel, cfg.Params),
			Secondary(client, cfg.SecondaryModel, cfg.Params),
			Minimal(client, cfg.MinimalModel, cfg.Params),
		},
		logger: cfg.Logger,
	}
}

// Optimize rewrites body with the primary tier only. Escalation to the other
// tiers is the caller's decision; see Attempts.
func (s *Synthesizer) Optimize(ctx context.Context, title, body string, refs []extract.Reference) (string, error) {
	return s.attempts[0].Run(ctx, Input{Title: title, Body: body, References: refs})
}

// Attempts returns the tiers in escalation order: primary, secondary, minimal.
func (s *Synthesizer) Attempts() []Attempt {
	return append([]Attempt(nil), s.attempts...)
}

// Test makes a tiny generation call against the primary model and reports
// whether it succeeded.
func (s *Synthesizer) Test(ctx context.Context) bool {
	_, err := s.client.Generate(ctx, llm.Request{
		Model:  s.model,
		Prompt: "Reply with the single word OK.",
		Params: llm.Params{MaxNewTokens: 5, Temperature: 0.1, TopP: 0.9, RepetitionPenalty: 1.0},
	})
	if err != nil {
		s.logger.Error("synthesizer connectivity check failed", "model", s.model, "err", err)
		return false
	}
	s.logger.Info("synthesizer connectivity check passed", "model", s.model)
	return true
}
