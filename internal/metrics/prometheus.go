package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"sutext.github.io/realtime/stats"
)

// Prometheus is a stats.Handler backed by Prometheus collectors. Register it
// once per registry; one instance may serve any number of clients.
type Prometheus struct {
	connectAttempts  prometheus.Counter
	connections      prometheus.Counter
	connected        prometheus.Gauge
	disconnects      *prometheus.CounterVec
	framesIn         *prometheus.CounterVec
	framesOut        *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	reconnects       prometheus.Counter
	reconnectDelay   prometheus.Histogram
	reconnectsFailed prometheus.Counter
	handlerPanics    prometheus.Counter
}

// NewPrometheus registers the collectors and returns the handler.
//
// Metrics collected:
//   - realtime_connect_attempts_total: dial attempts started
//   - realtime_connections_total: connections that reached the open state
//   - realtime_connected: connections currently open
//   - realtime_disconnects_total: closes by close code
//   - realtime_frames_in_total, realtime_frames_out_total: frames by envelope type
//   - realtime_frames_dropped_total: frames dropped by direction and reason
//   - realtime_reconnect_attempts_total: reconnects scheduled
//   - realtime_reconnect_delay_seconds: delay of scheduled reconnects
//   - realtime_reconnect_exhausted_total: retry policies that gave up
//   - realtime_handler_panics_total: listener panics recovered
func NewPrometheus(options ...Option) *Prometheus {
	opts := newOptions(options...)
	factory := promauto.With(opts.registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.namespace,
			Subsystem:   opts.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.namespace,
			Subsystem:   opts.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.constLabels,
		}, labels)
	}
	return &Prometheus{
		connectAttempts: counter("connect_attempts_total", "Total number of dial attempts started"),
		connections:     counter("connections_total", "Total number of connections that reached the open state"),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.namespace,
			Subsystem:   opts.subsystem,
			Name:        "connected",
			Help:        "Number of connections currently open",
			ConstLabels: opts.constLabels,
		}),
		disconnects:   counterVec("disconnects_total", "Total number of closed connections and failed dials by close code", "code"),
		framesIn:      counterVec("frames_in_total", "Total number of inbound frames by envelope type", "type"),
		framesOut:     counterVec("frames_out_total", "Total number of outbound frames by envelope type", "type"),
		framesDropped: counterVec("frames_dropped_total", "Total number of dropped frames", "direction", "reason"),
		reconnects:    counter("reconnect_attempts_total", "Total number of reconnects scheduled"),
		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.namespace,
			Subsystem:   opts.subsystem,
			Name:        "reconnect_delay_seconds",
			Help:        "Delay before scheduled reconnects in seconds",
			ConstLabels: opts.constLabels,
			Buckets:     opts.buckets,
		}),
		reconnectsFailed: counter("reconnect_exhausted_total", "Total number of times the retry policy gave up"),
		handlerPanics:    counter("handler_panics_total", "Total number of listener panics recovered"),
	}
}

func (p *Prometheus) HandleConn(_ context.Context, s stats.ConnStats) {
	switch s := s.(type) {
	case *stats.ConnBegin:
		p.connectAttempts.Inc()
	case *stats.ConnOpen:
		p.connections.Inc()
		p.connected.Inc()
	case *stats.ConnEnd:
		if s.Opened {
			p.connected.Dec()
		}
		p.disconnects.WithLabelValues(strconv.Itoa(s.Code)).Inc()
	}
}

func (p *Prometheus) HandleFrame(_ context.Context, s stats.FrameStats) {
	switch s := s.(type) {
	case *stats.FrameIn:
		p.framesIn.WithLabelValues(s.Type).Inc()
	case *stats.FrameOut:
		p.framesOut.WithLabelValues(s.Type).Inc()
	case *stats.FrameDropped:
		p.framesDropped.WithLabelValues(direction(s.Inbound), s.Reason).Inc()
	}
}

func (p *Prometheus) HandleRetry(_ context.Context, s stats.RetryStats) {
	switch s := s.(type) {
	case *stats.RetryScheduled:
		p.reconnects.Inc()
		p.reconnectDelay.Observe(s.Delay.Seconds())
	case *stats.RetryExhausted:
		p.reconnectsFailed.Inc()
	}
}

func (p *Prometheus) HandleDispatch(_ context.Context, s stats.DispatchStats) {
	if _, ok := s.(*stats.HandlerPanic); ok {
		p.handlerPanics.Inc()
	}
}

func direction(inbound bool) string {
	if inbound {
		return "in"
	}
	return "out"
}
