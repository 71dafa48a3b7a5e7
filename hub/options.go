package hub

import (
	"net/http"

	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xlog"
)

const (
	DefaultQueueCapacity = 256
	DefaultMaxPayload    = 1 << 20
)

// MessageHandler sees every relayed envelope before it is delivered. Returning
// false drops it.
type MessageHandler func(id string, env envelope.Envelope) bool

// Bridge carries relayed frames to other hubs sharing a backplane. Frames
// arriving from the backplane are handed to Hub.Deliver.
type Bridge interface {
	Forward(channel string, frame []byte) error
}

// Authorizer vets the upgrade request. A non-nil error rejects the
// handshake with 403.
type Authorizer func(r *http.Request) error

type Options struct {
	authorize      Authorizer
	bridge         Bridge
	logger         *xlog.Logger
	origins        []string
	queueCapacity  int
	maxPayload     int
	messageHandler MessageHandler
}

type Option struct {
	f func(*Options)
}

func newOptions(options ...Option) *Options {
	opts := &Options{
		logger:        xlog.Default(),
		queueCapacity: DefaultQueueCapacity,
		maxPayload:    DefaultMaxPayload,
	}
	for _, o := range options {
		o.f(opts)
	}
	return opts
}

func WithLogger(logger *xlog.Logger) Option {
	return Option{f: func(o *Options) {
		o.logger = logger
	}}
}

// WithOrigins restricts the Origin header of the handshake. With no origins
// every request is accepted, including ones without an Origin header.
func WithOrigins(origins ...string) Option {
	return Option{f: func(o *Options) {
		o.origins = origins
	}}
}

// WithQueueCapacity sets how many outbound frames may wait per connection.
// Frames for a connection with a full queue are dropped.
func WithQueueCapacity(capacity int) Option {
	return Option{f: func(o *Options) {
		o.queueCapacity = capacity
	}}
}
func WithMaxPayload(bytes int) Option {
	return Option{f: func(o *Options) {
		o.maxPayload = bytes
	}}
}
func WithMessageHandler(handler MessageHandler) Option {
	return Option{f: func(o *Options) {
		o.messageHandler = handler
	}}
}

// WithBridge forwards every relayed frame to b after local delivery.
func WithBridge(b Bridge) Option {
	return Option{f: func(o *Options) {
		o.bridge = b
	}}
}

func WithAuthorizer(authorize Authorizer) Option {
	return Option{f: func(o *Options) {
		o.authorize = authorize
	}}
}
