// Package envelope defines the JSON unit exchanged over a realtime connection.
//
// Every text frame carries one object of the form
//
//	{"type": "...", "channel": "...", "data": ..., "timestamp": 1700000000000}
//
// where channel and data are optional. Fields outside these four are kept in
// Extra so that decoding and re-encoding a frame does not lose them.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Error represents an envelope codec error.
type Error uint8

const (
	ErrMalformed   Error = 1
	ErrMissingType Error = 2
)

func (e Error) Error() string {
	switch e {
	case ErrMalformed:
		return "malformed envelope"
	case ErrMissingType:
		return "envelope has no type"
	default:
		return "unknown error"
	}
}

// Type is the discriminant of an envelope.
type Type string

const (
	Ping        Type = "ping"
	Pong        Type = "pong"
	Subscribe   Type = "subscribe"
	Unsubscribe Type = "unsubscribe"
	Message     Type = "message"
)

// Reserved reports whether t is consumed by the connection layer itself.
func (t Type) Reserved() bool {
	switch t {
	case Ping, Pong, Subscribe, Unsubscribe:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

const (
	keyType      = "type"
	keyChannel   = "channel"
	keyData      = "data"
	keyTimestamp = "timestamp"
)

type Envelope struct {
	Type      Type
	Channel   string
	Data      json.RawMessage
	Timestamp int64
	Extra     map[string]json.RawMessage
}

type wire struct {
	Type      Type            `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// New builds an envelope stamped with the current time.
func New(t Type, channel string, data any) (Envelope, error) {
	return NewAt(t, channel, data, time.Now())
}

// NewAt builds an envelope stamped with at. A nil data leaves Data empty.
func NewAt(t Type, channel string, data any, at time.Time) (Envelope, error) {
	e := Envelope{Type: t, Channel: channel, Timestamp: at.UnixMilli()}
	if data == nil {
		return e, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		e.Data = raw
		return e, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", t, err)
	}
	e.Data = b
	return e, nil
}

// Time returns the timestamp as a time.Time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Unmarshal decodes Data into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Fields returns the merged view of the envelope: the type, channel, data and
// timestamp together with every extra top-level field of the frame. JSON
// values are decoded the way encoding/json decodes into an any. A channel or
// timestamp that Decode could not read is reported as it arrived.
func (e Envelope) Fields() map[string]any {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = decodeValue(v)
	}
	out[keyType] = string(e.Type)
	if e.Channel != "" {
		out[keyChannel] = e.Channel
	}
	if len(e.Data) > 0 {
		out[keyData] = decodeValue(e.Data)
	}
	if _, raw := e.Extra[keyTimestamp]; !raw || e.Timestamp != 0 {
		out[keyTimestamp] = e.Timestamp
	}
	return out
}

func decodeValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	return v
}

func (e Envelope) String() string {
	if e.Channel == "" {
		return fmt.Sprintf("Envelope(%s)", e.Type)
	}
	return fmt.Sprintf("Envelope(%s, %s)", e.Type, e.Channel)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return Encode(e)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*e = d
	return nil
}

// Encode serializes e as a single JSON object.
func Encode(e Envelope) ([]byte, error) {
	w := wire{Type: e.Type, Channel: e.Channel, Data: e.Data, Timestamp: e.Timestamp}
	if len(e.Extra) == 0 {
		return json.Marshal(w)
	}
	out := make(map[string]json.RawMessage, len(e.Extra)+4)
	for k, v := range e.Extra {
		switch k {
		case keyType, keyChannel, keyData, keyTimestamp:
			continue
		}
		out[k] = v
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var canonical map[string]json.RawMessage
	if err := json.Unmarshal(b, &canonical); err != nil {
		return nil, err
	}
	for k, v := range canonical {
		out[k] = v
	}
	return json.Marshal(out)
}

// Decode parses one frame. Frames that are not JSON objects yield
// ErrMalformed and frames without a string type yield ErrMissingType.
//
// The other known fields are read leniently. A fractional timestamp is
// truncated to whole milliseconds. A timestamp or channel of the wrong JSON
// kind leaves the typed field zero and is kept in Extra under its own key.
// An explicit "data": null is kept as the raw null.
func Decode(b []byte) (Envelope, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return Envelope{}, ErrMalformed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var e Envelope
	if raw, ok := fields[keyType]; ok {
		if err := json.Unmarshal(raw, &e.Type); err != nil {
			return Envelope{}, fmt.Errorf("%w: type: %v", ErrMalformed, err)
		}
	}
	if e.Type == "" {
		return Envelope{}, ErrMissingType
	}
	for k, v := range fields {
		switch k {
		case keyType:
			continue
		case keyChannel:
			if json.Unmarshal(v, &e.Channel) == nil {
				continue
			}
		case keyData:
			e.Data = v
			continue
		case keyTimestamp:
			if ts, ok := parseTimestamp(v); ok {
				e.Timestamp = ts
				continue
			}
		}
		if e.Extra == nil {
			e.Extra = make(map[string]json.RawMessage)
		}
		e.Extra[k] = v
	}
	return e, nil
}

// parseTimestamp reads a JSON number as milliseconds. null reads as zero.
func parseTimestamp(raw json.RawMessage) (int64, bool) {
	if bytes.Equal(raw, []byte("null")) {
		return 0, true
	}
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}
