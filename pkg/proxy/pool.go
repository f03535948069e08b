package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when marking a URL that is not in the pool.
var ErrUnknownProxy = errors.New("proxy: proxy not found in pool")

// Endpoint is a single proxy with its health counters.
type Endpoint struct {
	URL           *url.URL
	Failures      int
	Successes     int
	LastUsed      time.Time
	DisabledUntil time.Time
}

func (e *Endpoint) available(now time.Time) bool {
	return e.DisabledUntil.IsZero() || now.After(e.DisabledUntil)
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures before an endpoint is benched.
	MaxFailures int
	// Cooldown is how long a benched endpoint stays out of rotation.
	Cooldown time.Duration
}

// Pool rotates round-robin over healthy endpoints. It is safe for
// concurrent use.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*Endpoint
	next        int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates an empty pool. Zero config values take defaults of three
// failures and a five minute cooldown.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{maxFailures: cfg.MaxFailures, cooldown: cfg.Cooldown, now: time.Now}
}

// LoadFile adds one proxy per line; blank lines and '#' comments are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return p.Add(urls...)
}

// Add parses proxy URLs; a missing scheme means http.
func (p *Pool) Add(rawURLs ...string) error {
	parsed := make([]*Endpoint, 0, len(rawURLs))
	for _, raw := range rawURLs {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		parsed = append(parsed, &Endpoint{URL: u})
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, parsed...)
	p.mu.Unlock()
	return nil
}

// Len returns the number of endpoints, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next available endpoint, or nil when the pool is empty or
// every endpoint is cooling down. An endpoint whose cooldown has elapsed
// comes back with its failure count reset.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.endpoints {
		e := p.endpoints[p.next]
		p.next = (p.next + 1) % len(p.endpoints)

		if !e.available(now) {
			continue
		}
		if !e.DisabledUntil.IsZero() {
			e.DisabledUntil = time.Time{}
			e.Failures = 0
		}
		e.LastUsed = now
		return e.URL
	}
	return nil
}

// MarkSuccess records a successful request and forgives one failure.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	return p.mark(proxyURL, func(e *Endpoint) {
		e.Successes++
		if e.Failures > 0 {
			e.Failures--
		}
	})
}

// MarkFailure records a failure and benches the endpoint once it reaches
// the configured maximum.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	return p.mark(proxyURL, func(e *Endpoint) {
		e.Failures++
		if e.Failures >= p.maxFailures {
			e.DisabledUntil = p.now().Add(p.cooldown)
		}
	})
}

// Snapshot returns a copy of every endpoint's counters.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = *e
	}
	return out
}

func (p *Pool) mark(proxyURL *url.URL, fn func(*Endpoint)) error {
	if proxyURL == nil {
		return errors.New("proxy: proxyURL cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	target := proxyURL.String()
	for _, e := range p.endpoints {
		if e.URL.String() == target {
			fn(e)
			return nil
		}
	}
	return ErrUnknownProxy
}
