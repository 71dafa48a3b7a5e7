package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"sutext.github.io/realtime/stats"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "%T is not an int64 sum", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := NewMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	ctx := context.Background()

	m.HandleConn(ctx, &stats.ConnOpen{URL: "ws://x/ws"})
	m.HandleConn(ctx, &stats.ConnEnd{Code: 1006, Opened: true})
	m.HandleFrame(ctx, &stats.FrameIn{Type: "message"})
	m.HandleFrame(ctx, &stats.FrameIn{Type: "chat"})
	m.HandleFrame(ctx, &stats.FrameOut{Type: "ping"})
	m.HandleFrame(ctx, &stats.FrameDropped{Reason: "encode"})
	m.HandleRetry(ctx, &stats.RetryScheduled{Attempt: 1, Delay: 2 * time.Second})
	m.HandleRetry(ctx, &stats.RetryExhausted{Attempts: 10})
	m.HandleDispatch(ctx, &stats.HandlerPanic{Key: "all"})

	data := collect(t, reader)
	assert.Equal(t, int64(1), sum(t, data["realtime.connections"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.disconnects"]))
	assert.Equal(t, int64(2), sum(t, data["realtime.frames.in"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.frames.out"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.frames.dropped"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.reconnect.attempts"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.reconnect.exhausted"]))
	assert.Equal(t, int64(1), sum(t, data["realtime.handler.panics"]))

	h, ok := data["realtime.reconnect.delay"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, 2000.0, h.DataPoints[0].Sum)
}
