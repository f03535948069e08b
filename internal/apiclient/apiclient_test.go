package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/storage"
)

func TestClient_ListSources(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/articles" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("isOriginal") != "true" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[
			{"id":"1","title":"One","content":"body one","url":"https://blog.example/1","isOriginal":true},
			{"id":"2","title":"Two","content":"body two","url":"https://blog.example/2","isOriginal":true}
		]`))
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.FindSources(context.Background(), storage.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("FindSources: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || !got[1].IsOriginal {
		t.Errorf("unexpected articles %+v", got)
	}
}

func TestClient_ListSourcesEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"a","title":"A","url":"https://x.example/a","isOriginal":true}]}`))
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL})
	got, err := c.ListSources(context.Background(), 5)
	if err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestClient_ListSourcesDropsDerivatives(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// server ignores the isOriginal filter
		_, _ = w.Write([]byte(`[
			{"id":"d1","title":"One","url":"https://blog.example/1-optimized-1","isOriginal":false,"originalArticleId":"1"},
			{"id":"1","title":"One","url":"https://blog.example/1","isOriginal":true},
			{"id":"d2","title":"Two","url":"https://blog.example/2-optimized-1","originalArticleId":"2"},
			{"id":"2","title":"Two","url":"https://blog.example/2","isOriginal":true},
			{"id":"3","title":"Three","url":"https://blog.example/3","isOriginal":true}
		]`))
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL})
	tests := []struct {
		limit int
		want  []string
	}{
		{limit: 2, want: []string{"1", "2"}},
		{limit: 0, want: []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		got, err := c.FindSources(context.Background(), storage.Filter{Limit: tt.limit})
		if err != nil {
			t.Fatalf("FindSources: %v", err)
		}
		var ids []string
		for _, a := range got {
			ids = append(ids, a.ID)
		}
		if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
			t.Errorf("limit %d: got %v, want %v", tt.limit, ids, tt.want)
		}
	}
}

func TestClient_ListSourcesRetriesTransient(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL, Retries: 2, RetryDelay: time.Millisecond})
	if _, err := c.ListSources(context.Background(), 5); err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", atomic.LoadInt32(&calls))
	}
}

func TestClient_CreateDerivative(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/articles" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["originalArticleId"] != "src-1" || body["isOriginal"] != false || body["optimizedContent"] != "better" {
			t.Errorf("unexpected body %v", body)
		}
		refs, ok := body["references"].([]any)
		if !ok || len(refs) != 1 {
			t.Errorf("unexpected references %v", body["references"])
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"new-1","title":"T","url":"https://blog.example/1-optimized-1","originalArticleId":"src-1"}}`))
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL})
	got, err := c.CreateDerivative(context.Background(), &storage.Article{
		Title:            "T",
		Content:          "orig",
		OptimizedContent: "better",
		URL:              "https://blog.example/1-optimized-1",
		OriginalID:       "src-1",
		References:       []storage.Reference{{Title: "R", URL: "https://r.example"}},
	})
	if err != nil {
		t.Fatalf("CreateDerivative: %v", err)
	}
	if got.ID != "new-1" || got.OriginalID != "src-1" {
		t.Errorf("unexpected article %+v", got)
	}
}

func TestClient_CreateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"duplicate url", http.StatusConflict, apperr.IsConflict},
		{"bad payload", http.StatusBadRequest, apperr.IsValidation},
		{"server error", http.StatusInternalServerError, apperr.IsTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer ts.Close()

			c, _ := New(Config{BaseURL: ts.URL})
			_, err := c.CreateDerivative(context.Background(), &storage.Article{Title: "T", URL: "u", OriginalID: "o"})
			if !tt.check(err) {
				t.Errorf("unexpected classification %v", err)
			}
		})
	}
}

func TestClient_CreateDerivativeRequiresOriginal(t *testing.T) {
	c, _ := New(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.CreateDerivative(context.Background(), &storage.Article{Title: "T"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error")
	}
}
