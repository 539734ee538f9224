package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Route values for the chat.requests counter.
const (
	RouteCanned = "canned"
	RouteCache  = "cache"
	RouteModel  = "model"
)

// Metrics holds the instruments recorded by the chat endpoint.
type Metrics struct {
	requests         metric.Int64Counter
	errors           metric.Int64Counter
	frames           metric.Int64Counter
	duration         metric.Float64Histogram
	promptTokens     metric.Float64Counter
	completionTokens metric.Float64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.requests, err = meter.Int64Counter("chat.requests",
		metric.WithDescription("Chat requests by route")); err != nil {
		return nil, fmt.Errorf("failed to create chat.requests: %w", err)
	}
	if m.errors, err = meter.Int64Counter("chat.errors",
		metric.WithDescription("Chat requests that ended in an error")); err != nil {
		return nil, fmt.Errorf("failed to create chat.errors: %w", err)
	}
	if m.frames, err = meter.Int64Counter("stream.frames",
		metric.WithDescription("Frames written to response streams")); err != nil {
		return nil, fmt.Errorf("failed to create stream.frames: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("chat.duration",
		metric.WithDescription("Chat request duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create chat.duration: %w", err)
	}
	if m.promptTokens, err = meter.Float64Counter("llm.usage.prompt_tokens",
		metric.WithDescription("Prompt tokens reported in finish frames")); err != nil {
		return nil, fmt.Errorf("failed to create llm.usage.prompt_tokens: %w", err)
	}
	if m.completionTokens, err = meter.Float64Counter("llm.usage.completion_tokens",
		metric.WithDescription("Completion tokens reported in finish frames")); err != nil {
		return nil, fmt.Errorf("failed to create llm.usage.completion_tokens: %w", err)
	}
	return m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *Metrics) Request(ctx context.Context, route string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) Error(ctx context.Context, route string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) Frame(ctx context.Context, kind string) {
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) Duration(ctx context.Context, route string, ms float64) {
	m.duration.Record(ctx, ms, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) Usage(ctx context.Context, route string, prompt, completion float64) {
	attrs := metric.WithAttributes(attribute.String("route", route))
	m.promptTokens.Add(ctx, prompt, attrs)
	m.completionTokens.Add(ctx, completion, attrs)
}
