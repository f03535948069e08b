package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/FranksOps/quill/pkg/httpclient"
	"github.com/FranksOps/quill/pkg/retry"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to listing only; creates are never retried.
	Retries    int
	RetryDelay time.Duration
	HTTP       *httpclient.Client
	Logger     *slog.Logger
}

// Client talks to the article CRUD surface. It satisfies the pipeline's
// source store and publisher so the orchestrator can run apart from storage.
type Client struct {
	baseURL string
	http    *httpclient.Client
	retry   retry.Policy
	logger  *slog.Logger
}

type createRequest struct {
	Title             string              `json:"title"`
	Content           string              `json:"content"`
	OptimizedContent  string              `json:"optimizedContent,omitempty"`
	URL               string              `json:"url"`
	IsOriginal        bool                `json:"isOriginal"`
	OriginalArticleID string              `json:"originalArticleId,omitempty"`
	Author            string              `json:"author,omitempty"`
	References        []storage.Reference `json:"references"`
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("apiclient: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.HTTP == nil {
		c, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("apiclient: %w", err)
		}
		cfg.HTTP = c
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTP,
		retry:   retry.Policy{Retries: cfg.Retries, Delay: cfg.RetryDelay, Retryable: apperr.IsTransient},
		logger:  cfg.Logger,
	}, nil
}

// ListSources returns up to limit original articles. The server is asked for
// originals only, but derivatives in its answer are dropped as well.
func (c *Client) ListSources(ctx context.Context, limit int) ([]*storage.Article, error) {
	const op = "apiclient.list"

	q := url.Values{}
	q.Set("isOriginal", "true")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var articles []*storage.Article
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		req, err := httpclient.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/api/articles?"+q.Encode(), nil)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
		resp, err := c.http.Read(ctx, req)
		if err != nil {
			return apperr.Classify(op, err)
		}
		if !resp.OK() {
			return apperr.FromStatus(op, resp.StatusCode, string(resp.Body))
		}
		articles, err = decodeList(resp.Body)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, op, err)
		}
		if attempt > 0 {
			c.logger.Debug("article listing succeeded after retry", "attempt", attempt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	articles = originalsOnly(articles)
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

// FindSources lists originals; only filter.Limit is sent to the server.
func (c *Client) FindSources(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	return c.ListSources(ctx, filter.Limit)
}

// CreateArticle posts a new article and returns the stored record.
func (c *Client) CreateArticle(ctx context.Context, a *storage.Article) (*storage.Article, error) {
	const op = "apiclient.create"

	refs := a.References
	if refs == nil {
		refs = []storage.Reference{}
	}
	payload := createRequest{
		Title:             a.Title,
		Content:           a.Content,
		OptimizedContent:  a.OptimizedContent,
		URL:               a.URL,
		IsOriginal:        a.IsOriginal,
		OriginalArticleID: a.OriginalID,
		Author:            a.Author,
		References:        refs,
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/articles", payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	resp, err := c.http.Read(ctx, req)
	if err != nil {
		return nil, apperr.Classify(op, err)
	}
	if !resp.OK() {
		return nil, apperr.FromStatus(op, resp.StatusCode, string(resp.Body))
	}

	created, err := decodeOne(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	c.logger.Debug("article created", "id", created.ID, "url", created.URL)
	return created, nil
}

// CreateDerivative publishes an optimized article.
func (c *Client) CreateDerivative(ctx context.Context, a *storage.Article) (*storage.Article, error) {
	if a.OriginalID == "" {
		return nil, apperr.New(apperr.KindValidation, "apiclient.create", "originalArticleId is required")
	}
	return c.CreateArticle(ctx, a)
}

func originalsOnly(articles []*storage.Article) []*storage.Article {
	out := articles[:0]
	for _, a := range articles {
		if a != nil && a.IsOriginal {
			out = append(out, a)
		}
	}
	return out
}

// decodeList accepts a bare array or an envelope with a data field.
func decodeList(body []byte) ([]*storage.Article, error) {
	var list []*storage.Article
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var env struct {
		Data []*storage.Article `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	return env.Data, nil
}

func decodeOne(body []byte) (*storage.Article, error) {
	var env struct {
		Data *storage.Article `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
		return env.Data, nil
	}
	var a storage.Article
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}
	return &a, nil
}
