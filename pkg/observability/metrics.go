package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all orchestrator metrics
type Metrics struct {
	meter metric.Meter

	// Counters
	plansStartedTotal   metric.Int64Counter
	plansCompletedTotal metric.Int64Counter
	plansCancelledTotal metric.Int64Counter
	stepsExecutedTotal  metric.Int64Counter
	stepsFailedTotal    metric.Int64Counter
	toolCallsTotal      metric.Int64Counter
	toolRetriesTotal    metric.Int64Counter
	llmRequestsTotal    metric.Int64Counter
	llmTokensUsedTotal  metric.Int64Counter
	cacheLookupsTotal   metric.Int64Counter

	// Histograms
	stepDuration     metric.Float64Histogram
	toolCallDuration metric.Float64Histogram
	llmDuration      metric.Float64Histogram

	// Gauge backing values
	activePlans int64
	pausedPlans int64
}

// NewMetrics creates and registers all instruments on the meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error
	counters := []struct {
		dest *metric.Int64Counter
		name string
		desc string
	}{
		{&m.plansStartedTotal, "plan_runs_started_total", "Total number of plan runs started"},
		{&m.plansCompletedTotal, "plan_runs_completed_total", "Total number of plan runs completed"},
		{&m.plansCancelledTotal, "plan_runs_cancelled_total", "Total number of plan runs cancelled"},
		{&m.stepsExecutedTotal, "steps_executed_total", "Total number of plan steps executed"},
		{&m.stepsFailedTotal, "steps_failed_total", "Total number of plan steps that failed"},
		{&m.toolCallsTotal, "tool_calls_total", "Total number of tool invocations"},
		{&m.toolRetriesTotal, "tool_retries_total", "Total number of tool-call retries"},
		{&m.llmRequestsTotal, "llm_requests_total", "Total number of chat-completion requests"},
		{&m.llmTokensUsedTotal, "llm_tokens_used_total", "Total number of LLM tokens used"},
		{&m.cacheLookupsTotal, "research_cache_lookups_total", "Total research cache lookups by outcome"},
	}
	for _, c := range counters {
		*c.dest, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dest *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.stepDuration, "step_duration_seconds", "Duration of step execution in seconds"},
		{&m.toolCallDuration, "tool_call_duration_seconds", "Duration of tool invocations in seconds"},
		{&m.llmDuration, "llm_request_duration_seconds", "Duration of chat-completion requests in seconds"},
	}
	for _, h := range histograms {
		*h.dest, err = meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
		)
		if err != nil {
			return nil, err
		}
	}

	_, err = meter.Int64ObservableGauge("active_plan_runs",
		metric.WithDescription("Number of plan runs currently executing"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(atomic.LoadInt64(&m.activePlans))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge("paused_plan_runs",
		metric.WithDescription("Number of plan runs currently paused"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(atomic.LoadInt64(&m.pausedPlans))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPlanStarted records the start of a plan run
func (m *Metrics) RecordPlanStarted(ctx context.Context) {
	m.plansStartedTotal.Add(ctx, 1)
	atomic.AddInt64(&m.activePlans, 1)
}

// RecordPlanFinished records the end of a plan run with its final status
func (m *Metrics) RecordPlanFinished(ctx context.Context, status string) {
	switch status {
	case "cancelled":
		m.plansCancelledTotal.Add(ctx, 1)
	default:
		m.plansCompletedTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
	atomic.AddInt64(&m.activePlans, -1)
}

// RecordPlanPaused tracks pause/resume transitions
func (m *Metrics) RecordPlanPaused(paused bool) {
	if paused {
		atomic.AddInt64(&m.pausedPlans, 1)
	} else {
		atomic.AddInt64(&m.pausedPlans, -1)
	}
}

// RecordStep records one step execution
func (m *Metrics) RecordStep(ctx context.Context, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
		m.stepsFailedTotal.Add(ctx, 1)
	}
	m.stepsExecutedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.stepDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordToolCall records one tool invocation
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.toolCallsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.toolCallDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordToolRetry records a retried tool attempt with the error category
func (m *Metrics) RecordToolRetry(ctx context.Context, tool, category string) {
	m.toolRetriesTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("category", category),
		),
	)
}

// RecordLLMRequest records one chat-completion request
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, promptTokens, completionTokens int64, duration time.Duration) {
	m.llmRequestsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
	m.llmTokensUsedTotal.Add(ctx, promptTokens+completionTokens,
		metric.WithAttributes(attribute.String("model", model)),
	)
	m.llmDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// RecordCacheLookup records a research cache lookup by kind and outcome
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookupsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// ActivePlans returns the current number of executing plan runs
func (m *Metrics) ActivePlans() int64 {
	return atomic.LoadInt64(&m.activePlans)
}
