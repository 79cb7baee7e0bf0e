package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)
	calls := 0
	err := p.Execute(context.Background(), "web_search", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)
	calls := 0
	err := p.Execute(context.Background(), "web_search", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)
	calls := 0
	err := p.Execute(context.Background(), "browse_page", func(ctx context.Context) error {
		calls++
		return errors.New("request timed out")
	})

	var rerr *RetryError
	if !errors.As(err, &rerr) {
		t.Fatalf("want *RetryError, got %T: %v", err, err)
	}
	if rerr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", rerr.Attempts)
	}
	if rerr.Last.Category != CategoryTimeout {
		t.Errorf("Last.Category = %s, want timeout", rerr.Last.Category)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)
	calls := 0
	err := p.Execute(context.Background(), "browse_page", func(ctx context.Context) error {
		calls++
		return errors.New("403 Forbidden")
	})

	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *ClassifiedError, got %T", err)
	}
	if cerr.Category != CategoryAuth {
		t.Errorf("Category = %s, want auth", cerr.Category)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth errors)", calls)
	}
}

func TestExecutePerToolOverride(t *testing.T) {
	overrides := map[string]RetryConfig{
		"validate_claim": {MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.5},
	}
	p := NewPolicy(fastConfig(), overrides)

	calls := 0
	err := p.Execute(context.Background(), "validate_claim", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	var rerr *RetryError
	if !errors.As(err, &rerr) {
		t.Fatalf("want *RetryError, got %T", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (override disables retries)", calls)
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = time.Second // long enough that cancel fires during the wait
	cfg.MaxDelay = time.Second
	p := NewPolicy(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Execute(ctx, "web_search", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation did not interrupt the wait (took %v)", elapsed)
	}
}

func TestExecuteOnRetryCallback(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)

	var attempts []int
	var categories []ErrorCategory
	p.OnRetry(func(tool string, attempt int, cerr *ClassifiedError, wait time.Duration) {
		attempts = append(attempts, attempt)
		categories = append(categories, cerr.Category)
	})

	_ = p.Execute(context.Background(), "web_search", func(ctx context.Context) error {
		return errors.New("connection reset")
	})

	// 3 attempts means 2 retries, so the callback fires twice
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", attempts)
	}
	for _, c := range categories {
		if c != CategoryNetwork {
			t.Errorf("callback category = %s, want network", c)
		}
	}
}

func TestExecuteRateLimitWaitFloor(t *testing.T) {
	cfg := fastConfig()
	p := NewPolicy(cfg, nil)

	var waits []time.Duration
	p.OnRetry(func(tool string, attempt int, cerr *ClassifiedError, wait time.Duration) {
		waits = append(waits, wait)
	})

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(done)
		_ = p.Execute(ctx, "web_search", func(ctx context.Context) error {
			return errors.New("429 too many requests")
		})
	}()

	// give the first attempt time to fail and report its wait, then cancel
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if len(waits) == 0 {
		t.Fatal("callback never fired")
	}
	if waits[0] < 5*time.Second {
		t.Errorf("rate limit wait = %v, want >= 5s", waits[0])
	}
}
