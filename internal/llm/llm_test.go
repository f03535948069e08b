package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FranksOps/quill/internal/apperr"
)

func TestHuggingFace_Generate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/models/org/writer-7b" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer hf_test" {
			t.Errorf("missing bearer token")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["inputs"] != "Rewrite this" {
			t.Errorf("unexpected inputs %v", body["inputs"])
		}
		params := body["parameters"].(map[string]any)
		if params["max_new_tokens"] != float64(1024) || params["temperature"] != 0.7 || params["return_full_text"] != false {
			t.Errorf("unexpected parameters %v", params)
		}
		if body["options"].(map[string]any)["wait_for_model"] != true {
			t.Errorf("expected wait_for_model")
		}

		_, _ = w.Write([]byte(`[{"generated_text":"  Rewritten.  "}]`))
	}))
	defer ts.Close()

	c, err := NewHuggingFace(Config{BaseURL: ts.URL, APIKey: "hf_test"})
	if err != nil {
		t.Fatalf("NewHuggingFace: %v", err)
	}

	out, err := c.Generate(context.Background(), Request{
		Model:  "org/writer-7b",
		Prompt: "Rewrite this",
		Params: Params{MaxNewTokens: 1024, Temperature: 0.7, TopP: 0.9, RepetitionPenalty: 1.1},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "  Rewritten.  " {
		t.Errorf("unexpected output %q", out)
	}
}

func TestHuggingFace_SingleObjectResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generated_text":"done"}`))
	}))
	defer ts.Close()

	c, _ := NewHuggingFace(Config{BaseURL: ts.URL, APIKey: "k"})
	out, err := c.Generate(context.Background(), Request{Model: "m", Prompt: "p"})
	if err != nil || out != "done" {
		t.Errorf("got %q, %v", out, err)
	}
}

func TestHuggingFace_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"Rate limit reached"}`, apperr.IsRateLimit},
		{"quota text on 400", http.StatusBadRequest, `{"error":"You have exceeded your monthly quota"}`, apperr.IsRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid token"}`, apperr.IsAuth},
		{"model loading", http.StatusServiceUnavailable, `{"error":"Model is currently loading","estimated_time":20}`, apperr.IsTransient},
		{"bad input", http.StatusBadRequest, `{"error":"Input too long"}`, apperr.IsValidation},
		{"error with 200", http.StatusOK, `{"error":"internal failure"}`, apperr.IsTransient},
		{"empty list", http.StatusOK, `[]`, apperr.IsIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c, _ := NewHuggingFace(Config{BaseURL: ts.URL, APIKey: "k"})
			_, err := c.Generate(context.Background(), Request{Model: "m", Prompt: "p"})
			if !tt.check(err) {
				t.Errorf("unexpected classification: %v", err)
			}
		})
	}
}

func TestHuggingFace_MissingKey(t *testing.T) {
	c, _ := NewHuggingFace(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Generate(context.Background(), Request{Model: "m", Prompt: "p"}); !apperr.IsAuth(err) {
		t.Errorf("expected auth error, got %v", err)
	}
}
