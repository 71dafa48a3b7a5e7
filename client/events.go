package client

import (
	"time"

	"sutext.github.io/realtime/envelope"
)

type keyKind uint8

const (
	kindConnection keyKind = iota + 1
	kindDisconnect
	kindReconnecting
	kindReconnectFailed
	kindError
	kindType
	kindChannel
	kindAll
)

// Key identifies one listener set of the router.
type Key struct {
	kind keyKind
	name string
}

func (k Key) String() string {
	switch k.kind {
	case kindConnection:
		return "connection"
	case kindDisconnect:
		return "disconnect"
	case kindReconnecting:
		return "reconnecting"
	case kindReconnectFailed:
		return "reconnect_failed"
	case kindError:
		return "error"
	case kindType:
		return k.name
	case kindChannel:
		return "channel:" + k.name
	case kindAll:
		return "all"
	default:
		return "unknown"
	}
}

// Event is a kind of event listeners can register for. T is the value
// handed to the listeners of that kind.
type Event[T any] struct {
	key Key
}

func (e Event[T]) Key() Key {
	return e.key
}

func (e Event[T]) String() string {
	return e.key.String()
}

// ConnectionEvent is emitted when a connection reaches the open state.
type ConnectionEvent struct {
	URL string
}

// DisconnectEvent is emitted when a connection or dial attempt closes.
// Code is CloseAbnormal when no close frame was received.
type DisconnectEvent struct {
	Code   int
	Reason string
}

// ReconnectingEvent is emitted as soon as a retry is scheduled, before its delay elapses.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectFailedEvent is emitted once the retry ceiling is reached.
type ReconnectFailedEvent struct {
	Attempts int
}

type ErrorEvent struct {
	Err error
}

var (
	Connection      = Event[ConnectionEvent]{key: Key{kind: kindConnection}}
	Disconnect      = Event[DisconnectEvent]{key: Key{kind: kindDisconnect}}
	Reconnecting    = Event[ReconnectingEvent]{key: Key{kind: kindReconnecting}}
	ReconnectFailed = Event[ReconnectFailedEvent]{key: Key{kind: kindReconnectFailed}}
	Errors          = Event[ErrorEvent]{key: Key{kind: kindError}}

	// All receives every inbound envelope except pongs.
	All = Event[envelope.Envelope]{key: Key{kind: kindAll}}
)

// Type selects inbound envelopes by their type.
func Type(t envelope.Type) Event[envelope.Envelope] {
	return Event[envelope.Envelope]{key: Key{kind: kindType, name: string(t)}}
}

// Channel selects inbound envelopes by their channel.
func Channel(name string) Event[envelope.Envelope] {
	return Event[envelope.Envelope]{key: Key{kind: kindChannel, name: name}}
}

// On registers h for ev. Listeners of one kind run in registration order.
// The returned listener removes the registration with Off.
func On[T any](c *Client, ev Event[T], h func(T)) *Listener {
	return c.router.add(ev.key, func(v any) {
		h(v.(T))
	})
}
