package ratelimit

import (
	"context"
	"time"
)

// Sleeper pauses the caller for a fixed duration. Pipelines depend on it
// instead of time.Sleep so pacing can be observed in tests.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the production Sleeper.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// Pacer inserts a fixed delay between consecutive operations. The first call
// to Wait never blocks.
type Pacer struct {
	delay   time.Duration
	sleeper Sleeper
	started bool
}

// NewPacer creates a pacer. A nil sleeper uses TimerSleeper.
func NewPacer(delay time.Duration, sleeper Sleeper) *Pacer {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &Pacer{delay: delay, sleeper: sleeper}
}

// Wait blocks for the configured delay unless this is the first operation.
func (p *Pacer) Wait(ctx context.Context) error {
	if !p.started {
		p.started = true
		return ctx.Err()
	}
	return p.sleeper.Sleep(ctx, p.delay)
}
