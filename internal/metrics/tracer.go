package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sutext.github.io/realtime/stats"
)

// Tracer is a stats.Handler that records one span per connection attempt,
// from dial to close. Retries and listener panics become span events. Use
// one Tracer per client.
type Tracer struct {
	mu        sync.Mutex
	tracer    trace.Tracer
	span      trace.Span
	framesIn  int
	framesOut int
}

// NewTracer creates the tracer on tp. A nil tp uses the global provider.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{
		tracer: tp.Tracer(instrumentation, trace.WithInstrumentationVersion("1.0.0")),
	}
}

func (t *Tracer) HandleConn(ctx context.Context, s stats.ConnStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s := s.(type) {
	case *stats.ConnBegin:
		t.endLocked(codes.Unset, "")
		_, t.span = t.tracer.Start(ctx, "realtime.connection",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("realtime.url", s.URL),
				attribute.Int("realtime.attempt", s.Attempt),
			),
		)
	case *stats.ConnOpen:
		if t.span != nil {
			t.span.AddEvent("open")
		}
	case *stats.ConnEnd:
		if t.span == nil {
			return
		}
		t.span.SetAttributes(
			attribute.Int("realtime.close.code", s.Code),
			attribute.String("realtime.close.reason", s.Reason),
			attribute.Bool("realtime.opened", s.Opened),
		)
		if !s.Opened {
			t.endLocked(codes.Error, "dial failed")
			return
		}
		if s.Code != 1000 && s.Code != 1001 {
			t.endLocked(codes.Error, fmt.Sprintf("closed with code %d", s.Code))
			return
		}
		t.endLocked(codes.Ok, "")
	}
}

func (t *Tracer) HandleFrame(_ context.Context, s stats.FrameStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s := s.(type) {
	case *stats.FrameIn:
		t.framesIn++
	case *stats.FrameOut:
		t.framesOut++
	case *stats.FrameDropped:
		if t.span != nil {
			t.span.AddEvent("frame dropped", trace.WithAttributes(
				attribute.String("realtime.direction", direction(s.Inbound)),
				attribute.String("realtime.reason", s.Reason),
			))
		}
	}
}

// HandleRetry records retries on a short span of their own, since the
// connection span they follow has already ended.
func (t *Tracer) HandleRetry(ctx context.Context, s stats.RetryStats) {
	switch s := s.(type) {
	case *stats.RetryScheduled:
		_, span := t.tracer.Start(ctx, "realtime.reconnect", trace.WithAttributes(
			attribute.Int("realtime.attempt", s.Attempt),
			attribute.Int64("realtime.delay_ms", s.Delay.Milliseconds()),
		))
		span.End()
	case *stats.RetryExhausted:
		_, span := t.tracer.Start(ctx, "realtime.reconnect", trace.WithAttributes(
			attribute.Int("realtime.attempt", s.Attempts),
		))
		span.SetStatus(codes.Error, "reconnect attempts exhausted")
		span.End()
	}
}

func (t *Tracer) HandleDispatch(_ context.Context, s stats.DispatchStats) {
	p, ok := s.(*stats.HandlerPanic)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.span != nil {
		t.span.AddEvent("listener panicked", trace.WithAttributes(
			attribute.String("realtime.key", p.Key),
			attribute.String("realtime.panic", fmt.Sprint(p.Value)),
		))
	}
}

func (t *Tracer) endLocked(code codes.Code, desc string) {
	if t.span == nil {
		return
	}
	t.span.SetAttributes(
		attribute.Int("realtime.frames.in", t.framesIn),
		attribute.Int("realtime.frames.out", t.framesOut),
	)
	if code != codes.Unset {
		t.span.SetStatus(code, desc)
	}
	t.span.End()
	t.span = nil
	t.framesIn = 0
	t.framesOut = 0
}
