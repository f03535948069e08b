package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type ctxKey struct{}

// Rotating wraps base so that every request goes through the pool's next
// endpoint. Connection errors and 407, 403 and 429 answers count as
// failures against the endpoint used.
type Rotating struct {
	pool *Pool
	base *http.Transport
}

// NewRotating clones base and installs the pool as its proxy source.
// When every endpoint is benched requests go out directly.
func NewRotating(pool *Pool, base *http.Transport) *Rotating {
	t := base.Clone()
	t.Proxy = func(req *http.Request) (*url.URL, error) {
		u, _ := req.Context().Value(ctxKey{}).(*url.URL)
		return u, nil
	}
	return &Rotating{pool: pool, base: t}
}

// RoundTrip implements http.RoundTripper.
func (r *Rotating) RoundTrip(req *http.Request) (*http.Response, error) {
	u := r.pool.Next()
	if u == nil {
		return r.base.RoundTrip(req)
	}

	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, u))
	resp, err := r.base.RoundTrip(req)
	if err != nil {
		_ = r.pool.MarkFailure(u)
		return nil, fmt.Errorf("proxy %s: %w", u.Host, err)
	}

	switch resp.StatusCode {
	case http.StatusProxyAuthRequired, http.StatusForbidden, http.StatusTooManyRequests:
		_ = r.pool.MarkFailure(u)
	default:
		_ = r.pool.MarkSuccess(u)
	}
	return resp, nil
}

// CloseIdleConnections closes idle connections on the underlying transport.
func (r *Rotating) CloseIdleConnections() {
	r.base.CloseIdleConnections()
}
