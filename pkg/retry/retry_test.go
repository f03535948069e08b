package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestPolicy_RetriesUpToCeiling(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		Retries: 2,
		Delay:   100 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})

	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Errorf("expected linear delays [100ms 200ms], got %v", delays)
	}
}

func TestPolicy_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	p := Policy{
		Retries:   5,
		Retryable: func(err error) bool { return false },
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	}

	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})

	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestPolicy_SucceedsAfterFailure(t *testing.T) {
	p := Policy{Retries: 2, Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt == 0 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSleep_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Second); err == nil {
		t.Fatalf("expected context canceled error")
	}
}
