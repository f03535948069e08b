package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/bypass"
	"github.com/FranksOps/quill/internal/fingerprint"
	"github.com/FranksOps/quill/pkg/proxy"
	"github.com/FranksOps/quill/pkg/useragent"
)

func newTestFetcher(t *testing.T, timeout time.Duration) *Fetcher {
	t.Helper()
	f, err := NewFetcher(FetchConfig{
		Timeout:     timeout,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      useragent.NewPool([]string{"TestBrowser/1.0"}),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func TestFetcher_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestBrowser/1.0" {
			t.Errorf("expected User-Agent header, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Test", "true")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, 5*time.Second)

	page, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", page.StatusCode)
	}
	if string(page.Body) != "ok" {
		t.Errorf("expected body 'ok', got %s", string(page.Body))
	}
	if page.Headers.Get("X-Test") != "true" {
		t.Errorf("expected X-Test header 'true', got %v", page.Headers)
	}
	if page.Duration == 0 {
		t.Errorf("expected non-zero duration")
	}
	if page.FinalURL == "" {
		t.Errorf("expected final url")
	}
}

func TestFetcher_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, 10*time.Millisecond)

	_, err := fetcher.Fetch(context.Background(), ts.URL)
	if !apperr.IsTransient(err) {
		t.Errorf("expected transient timeout error, got %v", err)
	}
}

func TestFetcher_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, apperr.IsNotFound},
		{"gone", http.StatusGone, apperr.IsValidation},
		{"forbidden", http.StatusForbidden, apperr.IsAuth},
		{"too many requests", http.StatusTooManyRequests, apperr.IsRateLimit},
		{"bad gateway", http.StatusBadGateway, apperr.IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			page, err := newTestFetcher(t, time.Second).Fetch(context.Background(), ts.URL)
			if !tt.check(err) {
				t.Errorf("unexpected classification: %v", err)
			}
			if page == nil || page.StatusCode != tt.status {
				t.Errorf("expected page with status %d", tt.status)
			}
		})
	}
}

func TestFetcher_Challenge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	page, err := newTestFetcher(t, time.Second).Fetch(context.Background(), ts.URL)
	if !apperr.IsTransient(err) {
		t.Errorf("expected transient error for challenge, got %v", err)
	}
	if page == nil || !page.Blocked || page.BlockedBy != bypass.SourceCloudflare {
		t.Errorf("expected blocked page, got %+v", page)
	}
}

func TestFetcher_InvalidURL(t *testing.T) {
	fetcher := newTestFetcher(t, time.Second)
	for _, u := range []string{"", "ftp://example.com/x", "not a url"} {
		if _, err := fetcher.Fetch(context.Background(), u); !apperr.IsValidation(err) {
			t.Errorf("Fetch(%q): expected validation error, got %v", u, err)
		}
	}
}

func TestFetcher_Proxies(t *testing.T) {
	forward := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host != "article.invalid" {
			t.Errorf("expected absolute target URL, got %q", r.URL.String())
		}
		_, _ = w.Write([]byte("proxied"))
	}))
	defer forward.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(forward.URL); err != nil {
		t.Fatal(err)
	}

	f, err := NewFetcher(FetchConfig{Fingerprint: fingerprint.ProfileGo, Proxies: pool})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	page, err := f.Fetch(context.Background(), "http://article.invalid/post")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "proxied" {
		t.Errorf("unexpected body %q", page.Body)
	}
	if pool.Snapshot()[0].Successes != 1 {
		t.Error("expected the proxy to record a success")
	}
}
