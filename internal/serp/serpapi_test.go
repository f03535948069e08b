package serp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FranksOps/quill/internal/apperr"
)

func TestSerpAPI_Search(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("engine") != "google" || q.Get("q") != "brew coffee" || q.Get("api_key") != "secret" || q.Get("num") != "4" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic_results":[
			{"title":"Reddit thread","link":"https://www.reddit.com/r/coffee/1","snippet":"x"},
			{"title":"Guide","link":"https://coffee.example/guide","snippet":"All  about\tcoffee"},
			{"title":"Beans","link":"https://beans.example/","snippet":""},
			{"title":"Extra","link":"https://extra.example/","snippet":""}
		]}`))
	}))
	defer ts.Close()

	s, err := NewSerpAPI(SerpAPIConfig{BaseURL: ts.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewSerpAPI: %v", err)
	}

	results, err := s.Search(context.Background(), "brew coffee", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://coffee.example/guide" || results[0].Snippet != "All about coffee" {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].URL != "https://beans.example/" {
		t.Errorf("unexpected second result %+v", results[1])
	}
}

func TestSerpAPI_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"too many requests", http.StatusTooManyRequests, `{"error":"slow down"}`, apperr.IsRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid API key"}`, apperr.IsAuth},
		{"quota in 200 body", http.StatusOK, `{"error":"Your account has run out of searches (quota exceeded)."}`, apperr.IsRateLimit},
		{"bad request", http.StatusBadRequest, `{"error":"Missing query"}`, apperr.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			s, _ := NewSerpAPI(SerpAPIConfig{BaseURL: ts.URL, APIKey: "k", Sleep: (&sleepRecorder{}).Sleep})
			_, err := s.Search(context.Background(), "coffee", 2)
			if !tt.check(err) {
				t.Errorf("unexpected classification: %v", err)
			}
			if calls != 1 {
				t.Errorf("expected no retries for %s, got %d calls", tt.name, calls)
			}
		})
	}
}

func TestSerpAPI_NoResultsMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Google hasn't returned any results for this query."}`))
	}))
	defer ts.Close()

	s, _ := NewSerpAPI(SerpAPIConfig{BaseURL: ts.URL, APIKey: "k"})
	results, err := s.Search(context.Background(), "zzzz", 2)
	if err != nil || len(results) != 0 {
		t.Errorf("expected empty result, got %v, %v", results, err)
	}
}

func TestSerpAPI_MissingKey(t *testing.T) {
	s, _ := NewSerpAPI(SerpAPIConfig{BaseURL: "http://127.0.0.1:1"})
	if s.Configured() {
		t.Error("expected unconfigured provider")
	}
	if _, err := s.Search(context.Background(), "coffee", 2); !apperr.IsAuth(err) {
		t.Errorf("expected auth error, got %v", err)
	}
}
