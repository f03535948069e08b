package serp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/metrics"
	"github.com/FranksOps/quill/pkg/httpclient"
	"github.com/FranksOps/quill/pkg/retry"
)

const defaultSerpAPIURL = "https://serpapi.com"

// SerpAPIConfig configures the keyed search API fallback.
type SerpAPIConfig struct {
	BaseURL    string
	APIKey     string
	Client     *httpclient.Client
	Filter     *Filter
	Retries    int
	RetryDelay time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
}

// SerpAPI searches through serpapi.com's Google engine.
type SerpAPI struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
	filter  *Filter
	retry   retry.Policy
	logger  *slog.Logger
}

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// NewSerpAPI creates a SerpAPI provider. An empty key is allowed; Search
// then fails with an auth error.
func NewSerpAPI(cfg SerpAPIConfig) (*SerpAPI, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSerpAPIURL
	}
	if cfg.Client == nil {
		c, err := httpclient.New(httpclient.Config{Timeout: 15 * time.Second})
		if err != nil {
			return nil, err
		}
		cfg.Client = c
	}
	if cfg.Filter == nil {
		cfg.Filter = NewFilter("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SerpAPI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  cfg.Client,
		filter:  cfg.Filter,
		retry:   retryPolicy(cfg.Retries, cfg.RetryDelay, cfg.Sleep),
		logger:  cfg.Logger,
	}, nil
}

// Configured reports whether an API key is present.
func (s *SerpAPI) Configured() bool {
	return s.apiKey != ""
}

// Search implements Provider.
func (s *SerpAPI) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	const op = "serp.serpapi"

	if err := Validate(query, limit); err != nil {
		return nil, err
	}
	if !s.Configured() {
		return nil, apperr.New(apperr.KindAuth, op, "api key not configured")
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit*2))
	params.Set("api_key", s.apiKey)
	searchURL := s.baseURL + "/search.json?" + params.Encode()

	var results []Result
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		req, err := httpclient.NewJSONRequest(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
		resp, err := s.client.Read(ctx, req)
		if err != nil {
			return apperr.Classify(op, err)
		}
		if !resp.OK() {
			return apperr.FromStatus(op, resp.StatusCode, string(resp.Body))
		}

		var body serpAPIResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return apperr.Wrap(apperr.KindTransient, op, err)
		}
		if body.Error != "" && len(body.OrganicResults) == 0 {
			// Reported with 200, e.g. for queries without results or an exhausted plan.
			if classified := apperr.FromStatus(op, resp.StatusCode, body.Error); classified.Kind == apperr.KindRateLimit {
				return classified
			}
			s.logger.Debug("serpapi returned no results", "query", query, "message", body.Error)
		}

		raw := make([]Result, 0, len(body.OrganicResults))
		for _, r := range body.OrganicResults {
			raw = append(raw, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
		}
		results = s.filter.Apply(raw, limit)
		return nil
	})
	metrics.RecordSearch("serpapi", outcomeLabel(results, err))
	if err != nil {
		return nil, Classify(op, err)
	}
	return results, nil
}
