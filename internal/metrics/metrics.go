// Package metrics turns client stats into Prometheus metrics, OpenTelemetry
// instruments and OpenTelemetry spans. Each handler implements stats.Handler
// and can be combined with stats.Multi.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "realtime"
	instrumentation  = "sutext.github.io/realtime"
)

type Options struct {
	namespace   string
	subsystem   string
	constLabels prometheus.Labels
	buckets     []float64
	registry    prometheus.Registerer
}

type Option struct {
	f func(*Options)
}

func newOptions(options ...Option) *Options {
	opts := &Options{
		namespace: defaultNamespace,
		buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range options {
		o.f(opts)
	}
	return opts
}

func WithNamespace(namespace string) Option {
	return Option{f: func(o *Options) {
		o.namespace = namespace
	}}
}
func WithSubsystem(subsystem string) Option {
	return Option{f: func(o *Options) {
		o.subsystem = subsystem
	}}
}
func WithConstLabels(labels prometheus.Labels) Option {
	return Option{f: func(o *Options) {
		o.constLabels = labels
	}}
}

// WithBuckets sets the buckets of the reconnect delay histogram, in seconds.
func WithBuckets(buckets []float64) Option {
	return Option{f: func(o *Options) {
		o.buckets = buckets
	}}
}

// WithRegistry sets where the collectors are registered. The default is
// prometheus.DefaultRegisterer.
func WithRegistry(registry prometheus.Registerer) Option {
	return Option{f: func(o *Options) {
		o.registry = registry
	}}
}
