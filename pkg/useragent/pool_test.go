package useragent

import (
	"net/http"
	"sync"
	"testing"
)

func TestPool_Next(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"})

	for _, want := range []string{"A", "B", "C", "A"} {
		if got := p.Next(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestPool_Default(t *testing.T) {
	p := NewPool(nil)
	if p.Len() != len(DefaultPool) {
		t.Errorf("expected pool length %d, got %d", len(DefaultPool), p.Len())
	}
	if got := p.Next(); got != DefaultPool[0] {
		t.Errorf("expected %s, got %s", DefaultPool[0], got)
	}
}

func TestPool_Apply(t *testing.T) {
	p := NewPool([]string{"TestBrowser/1.0"})
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	p.Apply(req)

	if req.Header.Get("User-Agent") != "TestBrowser/1.0" {
		t.Errorf("expected User-Agent to be set, got %q", req.Header.Get("User-Agent"))
	}
	if req.Header.Get("Accept-Language") == "" {
		t.Errorf("expected Accept-Language to be set")
	}
}

func TestPool_Concurrency(t *testing.T) {
	p := NewPool([]string{"A", "B", "C", "D"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Next()
		}()
	}
	wg.Wait()
}
