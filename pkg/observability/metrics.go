package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "comic-studio"

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeCanceled = "canceled"
	OutcomeCached   = "cached"
)

// Metrics holds the application instruments
type Metrics struct {
	upstreamCalls   metric.Int64Counter
	upstreamLatency metric.Float64Histogram
	comics          metric.Int64Counter
	chatTurns       metric.Int64Counter
	panelImages     metric.Int64Counter
}

// NewMetrics registers the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.upstreamCalls, err = meter.Int64Counter("upstream_calls_total",
		metric.WithDescription("Calls made to the generative AI service")); err != nil {
		return nil, err
	}
	if m.upstreamLatency, err = meter.Float64Histogram("upstream_call_duration_seconds",
		metric.WithDescription("Latency of generative AI calls"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.comics, err = meter.Int64Counter("comic_generations_total",
		metric.WithDescription("Comic generation requests by outcome")); err != nil {
		return nil, err
	}
	if m.chatTurns, err = meter.Int64Counter("chat_turns_total",
		metric.WithDescription("Chat turns by outcome")); err != nil {
		return nil, err
	}
	if m.panelImages, err = meter.Int64Counter("panel_images_total",
		metric.WithDescription("Panel image fetches by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

// Noop returns instruments that record nothing
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordUpstream records one call to the AI service
func (m *Metrics) RecordUpstream(ctx context.Context, operation string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcomeOf(err)),
	)
	m.upstreamCalls.Add(ctx, 1, attrs)
	m.upstreamLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordComic records the outcome of a comic generation request
func (m *Metrics) RecordComic(ctx context.Context, outcome string) {
	m.comics.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordChatTurn records how a chat turn ended
func (m *Metrics) RecordChatTurn(ctx context.Context, outcome string) {
	m.chatTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPanelImage records the outcome of one panel image fetch
func (m *Metrics) RecordPanelImage(ctx context.Context, outcome string) {
	m.panelImages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
