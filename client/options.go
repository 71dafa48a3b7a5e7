package client

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"sutext.github.io/realtime/backoff"
	"sutext.github.io/realtime/stats"
	"sutext.github.io/realtime/xlog"
)

const (
	DefaultRetryLimit       = 10
	DefaultPingInterval     = 25 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

type Options struct {
	url              string
	origin           string
	dialer           Dialer
	header           http.Header
	clock            clock.Clock
	logger           *xlog.Logger
	stats            stats.Handler
	retrier          *Retrier
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
}

type Option struct {
	f func(*Options)
}

func newOptions(options ...Option) *Options {
	opts := &Options{
		clock:            clock.New(),
		logger:           xlog.Default(),
		stats:            stats.Discard,
		retrier:          NewRetrier(DefaultRetryLimit, backoff.Default()),
		pingInterval:     DefaultPingInterval,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
	for _, o := range options {
		o.f(opts)
	}
	if opts.dialer == nil {
		opts.dialer = &WebSocketDialer{
			HandshakeTimeout: opts.handshakeTimeout,
			WriteTimeout:     opts.writeTimeout,
		}
	}
	opts.retrier.setClock(opts.clock)
	return opts
}

// WithURL sets the ws:// or wss:// endpoint.
func WithURL(url string) Option {
	return Option{f: func(o *Options) {
		o.url = url
	}}
}

// WithOrigin derives the endpoint from the origin of the hosting page,
// e.g. https://app.example.com becomes wss://app.example.com/ws.
// An explicit WithURL wins.
func WithOrigin(origin string) Option {
	return Option{f: func(o *Options) {
		o.origin = origin
	}}
}
func WithDialer(dialer Dialer) Option {
	return Option{f: func(o *Options) {
		o.dialer = dialer
	}}
}
func WithHeader(header http.Header) Option {
	return Option{f: func(o *Options) {
		o.header = header
	}}
}

// WithRetry sets the attempt ceiling and delay strategy of automatic reconnects.
func WithRetry(limit int, b backoff.Backoff) Option {
	return Option{f: func(o *Options) {
		o.retrier = NewRetrier(limit, b)
	}}
}
func WithRetrier(retrier *Retrier) Option {
	return Option{f: func(o *Options) {
		o.retrier = retrier
	}}
}

// WithKeepAlive sets the ping interval. Zero disables pings.
func WithKeepAlive(interval time.Duration) Option {
	return Option{f: func(o *Options) {
		o.pingInterval = interval
	}}
}

// WithClock replaces the time source driving retry and ping timers.
func WithClock(clk clock.Clock) Option {
	return Option{f: func(o *Options) {
		o.clock = clk
	}}
}
func WithLogger(logger *xlog.Logger) Option {
	return Option{f: func(o *Options) {
		o.logger = logger
	}}
}
// WithStats installs the observation hooks. A nil handler discards them.
func WithStats(handler stats.Handler) Option {
	return Option{f: func(o *Options) {
		if handler == nil {
			handler = stats.Discard
		}
		o.stats = handler
	}}
}

// WithHandshakeTimeout applies to the default dialer only.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return Option{f: func(o *Options) {
		o.handshakeTimeout = timeout
	}}
}

// WithWriteTimeout applies to the default dialer only.
func WithWriteTimeout(timeout time.Duration) Option {
	return Option{f: func(o *Options) {
		o.writeTimeout = timeout
	}}
}
