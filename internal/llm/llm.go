package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/pkg/httpclient"
)

const defaultBaseURL = "https://api-inference.huggingface.co"

// Params are the text generation settings.
type Params struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// Request is a single generation call.
type Request struct {
	Model  string
	Prompt string
	Params Params
}

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config configures a HuggingFace client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	HTTP    *httpclient.Client
	Logger  *slog.Logger
}

// HuggingFace calls the hosted inference API.
type HuggingFace struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	logger  *slog.Logger
}

type hfPayload struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

type hfParameters struct {
	Params
	ReturnFullText bool `json:"return_full_text"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// NewHuggingFace creates a client. A missing key is reported by Generate.
func NewHuggingFace(cfg Config) (*HuggingFace, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.HTTP == nil {
		c, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		cfg.HTTP = c
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HuggingFace{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    cfg.HTTP,
		logger:  cfg.Logger,
	}, nil
}

// Generate implements Client.
func (h *HuggingFace) Generate(ctx context.Context, r Request) (string, error) {
	const op = "llm.generate"

	if h.apiKey == "" {
		return "", apperr.New(apperr.KindAuth, op, "inference api key not configured")
	}
	if r.Model == "" {
		return "", apperr.New(apperr.KindValidation, op, "model is required")
	}

	payload := hfPayload{
		Inputs:     r.Prompt,
		Parameters: hfParameters{Params: r.Params},
		Options:    hfOptions{WaitForModel: true},
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, h.baseURL+"/models/"+r.Model, payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.http.Read(ctx, req)
	if err != nil {
		return "", apperr.Classify(op, err)
	}
	h.logger.Debug("inference call", "model", r.Model, "status", resp.StatusCode, "duration", resp.Duration)

	if !resp.OK() {
		return "", apperr.FromStatus(op, resp.StatusCode, errorMessage(resp.Body))
	}
	return decode(op, resp.Body)
}

// decode accepts both the list and the single-object response shapes.
func decode(op string, body []byte) (string, error) {
	var list []hfGeneration
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", apperr.New(apperr.KindIncomplete, op, "empty generation list")
		}
		return list[0].GeneratedText, nil
	}

	var single struct {
		hfGeneration
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &single); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, op, fmt.Errorf("decode response: %w", err))
	}
	if single.Error != "" {
		return "", apperr.FromStatus(op, http.StatusInternalServerError, single.Error)
	}
	return single.GeneratedText, nil
}

// errorMessage pulls the "error" field out of a JSON error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil {
		return fmt.Sprint(e.Error)
	}
	return string(body)
}
