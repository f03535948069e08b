package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScrapeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_scrape_requests_total",
			Help: "Total number of page fetches executed",
		},
		[]string{"domain", "status", "blocked_by"},
	)

	ScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_scrape_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	ScrapeBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_scrape_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_search_requests_total",
			Help: "Search provider calls by provider and result",
		},
		[]string{"provider", "result"},
	)

	SynthesisAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_synthesis_attempts_total",
			Help: "Synthesis attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	ArticleOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_article_outcomes_total",
			Help: "Articles processed by terminal state",
		},
		[]string{"state"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"stage"},
	)
)

// RecordScrape updates the fetch metrics for one request against domain.
// A status of 0 means the request never produced a response.
func RecordScrape(domain string, status int, blockedBy string, bytes int, d time.Duration) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}

	ScrapeRequestsTotal.WithLabelValues(domain, statusStr, blockedBy).Inc()
	ScrapeDuration.WithLabelValues(domain).Observe(d.Seconds())
	ScrapeBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// RecordSearch counts a search call. result is "ok", "empty" or an error kind.
func RecordSearch(provider, result string) {
	SearchRequestsTotal.WithLabelValues(provider, result).Inc()
}

// RecordSynthesis counts a synthesis attempt.
func RecordSynthesis(tier, result string) {
	SynthesisAttemptsTotal.WithLabelValues(tier, result).Inc()
}

// RecordOutcome counts an article reaching a terminal state.
func RecordOutcome(state string) {
	ArticleOutcomesTotal.WithLabelValues(state).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New prepares a metrics server for port without starting it.
func New(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops. Intentional shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("metrics server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
