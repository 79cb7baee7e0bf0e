package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps a ChatClient with spans and metrics
type InstrumentedClient struct {
	client    domain.ChatClient
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	model     string
}

// NewInstrumentedClient creates an instrumented chat client
func NewInstrumentedClient(client domain.ChatClient, telemetry *observability.Telemetry, metrics *observability.Metrics, model string) (*InstrumentedClient, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry is required")
	}

	return &InstrumentedClient{
		client:    client,
		telemetry: telemetry,
		metrics:   metrics,
		model:     model,
	}, nil
}

// Complete performs an instrumented tool-augmented completion
func (c *InstrumentedClient) Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.message_count", len(messages)),
			attribute.Int("llm.tool_count", len(tools)),
			attribute.String("llm.tool_choice", string(choice.Mode)),
		),
	)
	defer span.End()

	startTime := time.Now()
	response, err := c.client.Complete(ctx, messages, tools, choice)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", response.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", response.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(response.ToolCalls)),
		attribute.String("llm.finish_reason", response.FinishReason),
	)

	if c.metrics != nil {
		c.metrics.RecordLLMRequest(ctx, c.model,
			int64(response.Usage.PromptTokens),
			int64(response.Usage.CompletionTokens),
			duration,
		)
	}

	return response, nil
}

// Stream performs an instrumented streaming completion. The span closes when
// the stream drains, not when the call returns.
func (c *InstrumentedClient) Stream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamChunk, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.message_count", len(messages)),
		),
	)

	startTime := time.Now()
	upstream, err := c.client.Stream(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		defer span.End()

		chunks := 0
		for chunk := range upstream {
			if chunk.Err != nil {
				span.RecordError(chunk.Err)
				span.SetStatus(codes.Error, chunk.Err.Error())
			}
			chunks++
			out <- chunk
		}

		span.SetAttributes(
			attribute.Int("llm.stream_chunks", chunks),
			attribute.Float64("duration.seconds", time.Since(startTime).Seconds()),
		)
	}()

	return out, nil
}
