// Package client implements a realtime connection manager: one persistent
// WebSocket connection that reconnects with backoff after failures, replays
// channel subscriptions on every new connection, keeps idle proxies from
// dropping the line, and fans inbound envelopes out to typed listeners.
package client

import "fmt"

// State represents the current state of the client connection.
type State uint8

// Client connection state constants.
const (
	// StateConnecting indicates a dial attempt is in flight.
	StateConnecting State = iota
	// StateOpen indicates the connection is open and frames can be sent.
	StateOpen
	// StateClosing indicates the application is tearing the client down.
	StateClosing
	// StateClosed indicates there is no live connection. A reconnect may be pending.
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// WebSocket close codes the client reports in DisconnectEvent.
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
	CloseNoStatus      = 1005
	CloseAbnormal      = 1006
)

// CloseError carries the code and reason of a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed with code %d", e.Code)
	}
	return fmt.Sprintf("websocket closed with code %d: %s", e.Code, e.Reason)
}
