// Package stats defines hooks through which a realtime client reports what
// happens on its connection. Handlers are called synchronously from the
// client and must not block.
package stats

import (
	"context"
	"time"
)

type ConnStats interface {
	isConnStats() // ConnStats is a marker interface for connection statistics.
}

// ConnBegin is reported when a dial attempt starts.
type ConnBegin struct {
	URL     string
	Attempt int // 0 for the first connect, otherwise the retry number
}

func (*ConnBegin) isConnStats() {}

// ConnOpen is reported when the connection reaches the open state.
type ConnOpen struct {
	URL string
}

func (*ConnOpen) isConnStats() {}

// ConnEnd is reported when a connection or dial attempt closes.
type ConnEnd struct {
	Code   int
	Reason string
	Opened bool // whether the connection ever reached the open state
}

func (*ConnEnd) isConnStats() {}

type FrameStats interface {
	isFrameStats()
}

type FrameIn struct {
	Type  string
	Bytes int
}

func (*FrameIn) isFrameStats() {}

type FrameOut struct {
	Type  string
	Bytes int
}

func (*FrameOut) isFrameStats() {}

// FrameDropped is reported for inbound frames that failed to decode and for
// outbound envelopes that could not be written.
type FrameDropped struct {
	Inbound bool
	Reason  string
}

func (*FrameDropped) isFrameStats() {}

type RetryStats interface {
	isRetryStats()
}

type RetryScheduled struct {
	Attempt int
	Delay   time.Duration
}

func (*RetryScheduled) isRetryStats() {}

type RetryExhausted struct {
	Attempts int
}

func (*RetryExhausted) isRetryStats() {}

type DispatchStats interface {
	isDispatchStats()
}

// HandlerPanic is reported when a listener panics during dispatch.
type HandlerPanic struct {
	Key   string
	Value any
}

func (*HandlerPanic) isDispatchStats() {}

type Handler interface {
	HandleConn(ctx context.Context, stats ConnStats)
	HandleFrame(ctx context.Context, stats FrameStats)
	HandleRetry(ctx context.Context, stats RetryStats)
	HandleDispatch(ctx context.Context, stats DispatchStats)
}

// Discard is a Handler that ignores everything.
var Discard Handler = discard{}

type discard struct{}

func (discard) HandleConn(context.Context, ConnStats) {}
func (discard) HandleFrame(context.Context, FrameStats) {}
func (discard) HandleRetry(context.Context, RetryStats) {}
func (discard) HandleDispatch(context.Context, DispatchStats) {}

// Multi fans every report out to all handlers in order. Nil handlers are skipped.
func Multi(handlers ...Handler) Handler {
	hs := make(multi, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	switch len(hs) {
	case 0:
		return Discard
	case 1:
		return hs[0]
	default:
		return hs
	}
}

type multi []Handler

func (m multi) HandleConn(ctx context.Context, s ConnStats) {
	for _, h := range m {
		h.HandleConn(ctx, s)
	}
}
func (m multi) HandleFrame(ctx context.Context, s FrameStats) {
	for _, h := range m {
		h.HandleFrame(ctx, s)
	}
}
func (m multi) HandleRetry(ctx context.Context, s RetryStats) {
	for _, h := range m {
		h.HandleRetry(ctx, s)
	}
}
func (m multi) HandleDispatch(ctx context.Context, s DispatchStats) {
	for _, h := range m {
		h.HandleDispatch(ctx, s)
	}
}
