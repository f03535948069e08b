package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry with linearly increasing delay: the n-th
// retry waits Delay*n.
type Policy struct {
	// Retries is the number of additional attempts after the first one.
	Retries int
	// Delay is the base delay. Zero retries immediately.
	Delay time.Duration
	// Retryable decides whether an error warrants another attempt.
	// If nil, every error is retried.
	Retryable func(error) bool
	// Sleep is used to wait between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// ceiling is reached. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, p.Delay*time.Duration(attempt)); serr != nil {
				return serr
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
