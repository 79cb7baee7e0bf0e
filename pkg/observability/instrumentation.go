package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartPlanRun starts the root span for one plan execution
func (t *Telemetry) StartPlanRun(ctx context.Context, planID, userID string, stepCount int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "plan.run",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.String("user.id", userID),
			attribute.Int("plan.steps", stepCount),
		),
	)
}

// InstrumentStepExecution wraps one step's execution in a span
func (t *Telemetry) InstrumentStepExecution(ctx context.Context, stepIndex int, stepText string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("step.%d", stepIndex),
		trace.WithAttributes(
			attribute.Int("step.index", stepIndex),
			attribute.Int("step.text_length", len(stepText)),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Float64("duration.seconds", duration.Seconds()))

	return err
}

// InstrumentToolCall wraps one tool invocation in a span
func (t *Telemetry) InstrumentToolCall(ctx context.Context, toolName string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("tool.%s", toolName),
		trace.WithAttributes(attribute.String("tool.name", toolName)),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	duration := time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("tool.status", status),
		attribute.Float64("tool.duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentLLMCall wraps a chat-completion call in a span and records token
// usage on success.
func (t *Telemetry) InstrumentLLMCall(ctx context.Context, model string, fn func(context.Context) (promptTokens, completionTokens int, err error)) error {
	ctx, span := t.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(attribute.String("llm.model", model)),
	)
	defer span.End()

	startTime := time.Now()
	promptTokens, completionTokens, err := fn(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", promptTokens),
			attribute.Int("llm.completion_tokens", completionTokens),
			attribute.Int("llm.total_tokens", promptTokens+completionTokens),
		)
	}
	span.SetAttributes(attribute.Float64("duration.seconds", duration.Seconds()))

	return err
}
