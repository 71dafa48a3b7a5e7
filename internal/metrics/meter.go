package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"sutext.github.io/realtime/stats"
)

type milliDuration struct {
	metric.Float64Histogram
}

func newDuration(meter metric.Meter, name string, description string) milliDuration {
	f, err := meter.Float64Histogram(name,
		metric.WithUnit("ms"),
		metric.WithDescription(description),
	)
	if err != nil {
		otel.Handle(err)
		return milliDuration{noop.Float64Histogram{}}
	}
	return milliDuration{f}
}
func (f milliDuration) Record(ctx context.Context, value float64, labels ...attribute.KeyValue) {
	f.Float64Histogram.Record(ctx, value, metric.WithAttributeSet(attribute.NewSet(labels...)))
}

type counter struct {
	metric.Int64Counter
}

func newCounter(meter metric.Meter, name string, description string) counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return counter{noop.Int64Counter{}}
	}
	return counter{c}
}
func (c counter) Inc(ctx context.Context, labels ...attribute.KeyValue) {
	c.Int64Counter.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(labels...)))
}

// Meter is a stats.Handler recording OpenTelemetry instruments.
type Meter struct {
	connections    counter
	disconnects    counter
	framesIn       counter
	framesOut      counter
	framesDropped  counter
	reconnects     counter
	exhausted      counter
	panics         counter
	reconnectDelay milliDuration
}

// NewMeter creates the instruments on mp. A nil mp uses the global provider.
func NewMeter(mp metric.MeterProvider) *Meter {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentation, metric.WithInstrumentationVersion("1.0.0"))
	return &Meter{
		connections:    newCounter(meter, "realtime.connections", "Connections that reached the open state"),
		disconnects:    newCounter(meter, "realtime.disconnects", "Closed connections and failed dials"),
		framesIn:       newCounter(meter, "realtime.frames.in", "Inbound frames"),
		framesOut:      newCounter(meter, "realtime.frames.out", "Outbound frames"),
		framesDropped:  newCounter(meter, "realtime.frames.dropped", "Dropped frames"),
		reconnects:     newCounter(meter, "realtime.reconnect.attempts", "Reconnects scheduled"),
		exhausted:      newCounter(meter, "realtime.reconnect.exhausted", "Times the retry policy gave up"),
		panics:         newCounter(meter, "realtime.handler.panics", "Listener panics recovered"),
		reconnectDelay: newDuration(meter, "realtime.reconnect.delay", "Delay before scheduled reconnects in milliseconds"),
	}
}

func (m *Meter) HandleConn(ctx context.Context, s stats.ConnStats) {
	switch s := s.(type) {
	case *stats.ConnOpen:
		m.connections.Inc(ctx)
	case *stats.ConnEnd:
		m.disconnects.Inc(ctx, attribute.String("code", strconv.Itoa(s.Code)))
	}
}

func (m *Meter) HandleFrame(ctx context.Context, s stats.FrameStats) {
	switch s := s.(type) {
	case *stats.FrameIn:
		m.framesIn.Inc(ctx, attribute.String("type", s.Type))
	case *stats.FrameOut:
		m.framesOut.Inc(ctx, attribute.String("type", s.Type))
	case *stats.FrameDropped:
		m.framesDropped.Inc(ctx,
			attribute.String("direction", direction(s.Inbound)),
			attribute.String("reason", s.Reason),
		)
	}
}

func (m *Meter) HandleRetry(ctx context.Context, s stats.RetryStats) {
	switch s := s.(type) {
	case *stats.RetryScheduled:
		m.reconnects.Inc(ctx)
		m.reconnectDelay.Record(ctx, float64(s.Delay.Milliseconds()))
	case *stats.RetryExhausted:
		m.exhausted.Inc(ctx)
	}
}

func (m *Meter) HandleDispatch(ctx context.Context, s stats.DispatchStats) {
	if _, ok := s.(*stats.HandlerPanic); ok {
		m.panics.Inc(ctx)
	}
}
