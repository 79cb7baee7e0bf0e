// Package recovery classifies operation failures, drives retries with
// exponential backoff, and tracks per-tool error rates so the step executor
// can steer around tools that keep failing.
package recovery

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory identifies the kind of failure an operation produced
type ErrorCategory string

const (
	// CategoryNetwork covers connection-level failures
	CategoryNetwork ErrorCategory = "network"
	// CategoryTimeout covers deadline and cancellation failures
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryRateLimit covers provider throttling
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryParse covers malformed responses and decode failures
	CategoryParse ErrorCategory = "parse"
	// CategoryNotFound covers missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryAuth covers credential and permission failures
	CategoryAuth ErrorCategory = "auth"
	// CategoryUnknown is the fallback for anything unrecognized
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with its category and retry guidance
type ClassifiedError struct {
	Category  ErrorCategory
	Retryable bool
	// WaitTime is a minimum delay before the next attempt, when the
	// category implies one (rate limits). Zero means backoff decides.
	WaitTime time.Duration
	// Guidance is a short hint suitable for injecting into a model prompt
	Guidance string
	Err      error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error { return e.Err }

// classificationRule maps message keywords to a classification. Rules are
// checked in order and the first match wins, so more specific categories
// must precede broader ones.
type classificationRule struct {
	keywords  []string
	category  ErrorCategory
	retryable bool
	waitTime  time.Duration
	guidance  string
}

var classificationRules = []classificationRule{
	{
		keywords:  []string{"connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe", "eof"},
		category:  CategoryNetwork,
		retryable: true,
		guidance:  "The service was unreachable. Retry, or try a different source.",
	},
	{
		keywords:  []string{"timeout", "timed out", "deadline exceeded", "context canceled", "aborted"},
		category:  CategoryTimeout,
		retryable: true,
		guidance:  "The operation took too long. Retry with a narrower request.",
	},
	{
		keywords:  []string{"rate limit", "too many requests", "429", "quota exceeded"},
		category:  CategoryRateLimit,
		retryable: true,
		waitTime:  5 * time.Second,
		guidance:  "The provider is throttling. Wait before retrying, or switch tools.",
	},
	{
		keywords:  []string{"parse", "unmarshal", "invalid json", "unexpected token", "malformed"},
		category:  CategoryParse,
		retryable: false,
		guidance:  "The response could not be parsed. Rephrase the request or use another source.",
	},
	{
		keywords:  []string{"not found", "404", "no results", "does not exist"},
		category:  CategoryNotFound,
		retryable: false,
		guidance:  "The resource does not exist. Try a different query or URL.",
	},
	{
		keywords:  []string{"unauthorized", "forbidden", "401", "403", "invalid api key", "permission denied"},
		category:  CategoryAuth,
		retryable: false,
		guidance:  "Access was denied. This will not succeed on retry; use another source.",
	},
}

// Classify assigns a category to err by case-insensitive keyword matching
// against its message. Unrecognized errors are treated as retryable with a
// short wait, since transient provider hiccups dominate in practice.
func Classify(err error) *ClassifiedError {
	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return &ClassifiedError{
					Category:  rule.category,
					Retryable: rule.retryable,
					WaitTime:  rule.waitTime,
					Guidance:  rule.guidance,
					Err:       err,
				}
			}
		}
	}

	return &ClassifiedError{
		Category:  CategoryUnknown,
		Retryable: true,
		WaitTime:  time.Second,
		Guidance:  "An unexpected error occurred. Retry once, then try a different approach.",
		Err:       err,
	}
}
