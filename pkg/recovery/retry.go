package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls retry behavior for one operation class
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// DefaultRetryConfig is the fallback policy for tools without an override
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// RetryError reports that all attempts were exhausted
type RetryError struct {
	Attempts int
	Last     *ClassifiedError
}

// Error implements the error interface
func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last classified error
func (e *RetryError) Unwrap() error { return e.Last }

// Policy retries operations per a RetryConfig, with per-tool overrides
type Policy struct {
	defaults  RetryConfig
	overrides map[string]RetryConfig
	// onRetry, when set, observes each failed attempt before the wait
	onRetry func(tool string, attempt int, cerr *ClassifiedError, wait time.Duration)
}

// NewPolicy creates a retry policy. Overrides map tool names to configs;
// tools without an entry use defaults.
func NewPolicy(defaults RetryConfig, overrides map[string]RetryConfig) *Policy {
	if defaults.MaxRetries == 0 && defaults.BaseDelay == 0 {
		defaults = DefaultRetryConfig()
	}
	return &Policy{defaults: defaults, overrides: overrides}
}

// OnRetry registers a callback invoked after each failed attempt
func (p *Policy) OnRetry(fn func(tool string, attempt int, cerr *ClassifiedError, wait time.Duration)) {
	p.onRetry = fn
}

// ConfigFor returns the retry config for a tool
func (p *Policy) ConfigFor(tool string) RetryConfig {
	if cfg, ok := p.overrides[tool]; ok {
		return cfg
	}
	return p.defaults
}

// Execute runs op, retrying on retryable classified errors with exponential
// backoff and jitter. Non-retryable errors and context cancellation stop
// immediately. The returned error is a *RetryError when attempts were
// exhausted, or the classified error when retrying was not permitted.
func (p *Policy) Execute(ctx context.Context, tool string, op func(ctx context.Context) error) error {
	cfg := p.ConfigFor(tool)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = cfg.Multiplier
	bo.MaxElapsedTime = 0
	bo.Reset()

	var last *ClassifiedError
	attempts := cfg.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		last = Classify(err)
		if !last.Retryable {
			return last
		}
		if attempt == attempts {
			break
		}

		wait := bo.NextBackOff()
		// rate-limit classifications carry a minimum wait that wins
		// over whatever backoff computed
		if last.WaitTime > wait {
			wait = last.WaitTime
		}

		if p.onRetry != nil {
			p.onRetry(tool, attempt, last, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Classify(ctx.Err())
		case <-timer.C:
		}
	}

	return &RetryError{Attempts: attempts, Last: last}
}
