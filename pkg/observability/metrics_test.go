package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUpstream(ctx, "generate_image", 20*time.Millisecond, nil)
	m.RecordUpstream(ctx, "generate_image", 10*time.Millisecond, errors.New("boom"))
	m.RecordComic(ctx, OutcomeOK)
	m.RecordPanelImage(ctx, OutcomeCached)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = true
		if metric.Name == "upstream_calls_total" {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			assert.Len(t, sum.DataPoints, 2)
		}
	}
	assert.True(t, names["upstream_call_duration_seconds"])
	assert.True(t, names["comic_generations_total"])
	assert.True(t, names["panel_images_total"])
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := Noop()
	assert.NotPanics(t, func() {
		m.RecordChatTurn(context.Background(), OutcomeCanceled)
	})
}
