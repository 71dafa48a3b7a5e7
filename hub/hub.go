// Package hub is a small channel relay speaking the realtime envelope
// protocol. Clients subscribe to channels; message envelopes sent to a
// channel are delivered to every subscriber of it, the sender included.
package hub

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

type Hub struct {
	mu       sync.RWMutex
	opts     *Options
	logger   *xlog.Logger
	conns    map[string]*conn
	channels map[string]map[*conn]struct{}
	closed   bool
}

func New(options ...Option) *Hub {
	opts := newOptions(options...)
	return &Hub{
		opts:     opts,
		logger:   opts.logger,
		conns:    make(map[string]*conn),
		channels: make(map[string]map[*conn]struct{}),
	}
}

// Handler returns the websocket endpoint of the hub.
func (h *Hub) Handler() http.Handler {
	return websocket.Server{
		Handler:   h.serve,
		Handshake: h.handshake,
	}
}

func (h *Hub) handshake(c *websocket.Config, r *http.Request) error {
	if h.isClosed() {
		return xerr.HubClosed
	}
	if h.opts.authorize != nil {
		if err := h.opts.authorize(r); err != nil {
			h.logger.Debug("handshake rejected", xlog.Str("remote", r.RemoteAddr), xlog.Err(err))
			return fmt.Errorf("%w: %w", xerr.Unauthorized, err)
		}
	}
	if len(h.opts.origins) == 0 {
		return nil
	}
	origin, err := websocket.Origin(c, r)
	if err != nil {
		return err
	}
	if origin == nil {
		return fmt.Errorf("%w: null origin", xerr.InvalidOrigin)
	}
	o := origin.Scheme + "://" + origin.Host
	if !slices.Contains(h.opts.origins, o) {
		return fmt.Errorf("%w: %s", xerr.InvalidOrigin, o)
	}
	c.Origin = origin
	return nil
}

func (h *Hub) serve(raw *websocket.Conn) {
	raw.MaxPayloadBytes = h.opts.maxPayload
	id := uuid.NewString()
	c := newConn(id, raw, h.opts.queueCapacity, h.logger.With(xlog.Cid(id)))
	if !h.add(c) {
		raw.Close()
		return
	}
	defer h.remove(c)
	go c.writeLoop()
	c.logger.Info("client connected", xlog.Str("remote", raw.Request().RemoteAddr))
	for {
		var text string
		if err := websocket.Message.Receive(raw, &text); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("read failed", xlog.Err(err))
			}
			return
		}
		h.handle(c, []byte(text))
	}
}

func (h *Hub) handle(c *conn, frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		c.logger.Warn("drop inbound frame", xlog.Err(err))
		return
	}
	switch env.Type {
	case envelope.Ping:
		if pong, err := h.encode(envelope.Pong, "", nil); err == nil {
			c.send(pong)
		}
	case envelope.Pong:
	case envelope.Subscribe:
		h.subscribe(c, env.Channel)
	case envelope.Unsubscribe:
		h.unsubscribe(c, env.Channel)
	default:
		if env.Channel == "" {
			c.logger.Debug("drop envelope without channel", xlog.Type(string(env.Type)))
			return
		}
		if h.opts.messageHandler != nil && !h.opts.messageHandler(c.id, env) {
			return
		}
		h.relay(env.Channel, frame)
	}
}

// relay delivers locally, then hands the frame to the bridge.
func (h *Hub) relay(channel string, frame []byte) int {
	n := h.Deliver(channel, frame)
	if h.opts.bridge != nil {
		if err := h.opts.bridge.Forward(channel, frame); err != nil {
			h.logger.Warn("bridge forward failed", xlog.Channel(channel), xlog.Err(err))
		}
	}
	return n
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	for ch := range c.subs {
		h.leaveLocked(c, ch)
	}
	h.mu.Unlock()
	c.close()
	c.logger.Info("client disconnected")
}

func (h *Hub) subscribe(c *conn, channel string) {
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[channel]
	if !ok {
		set = make(map[*conn]struct{})
		h.channels[channel] = set
	}
	set[c] = struct{}{}
	c.subs[channel] = struct{}{}
	c.logger.Debug("subscribed", xlog.Channel(channel))
}

func (h *Hub) unsubscribe(c *conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, channel)
	c.logger.Debug("unsubscribed", xlog.Channel(channel))
}

func (h *Hub) leaveLocked(c *conn, channel string) {
	delete(c.subs, channel)
	set, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.channels, channel)
	}
}

// Deliver sends an encoded frame to the local subscribers of channel without
// forwarding it to the bridge. Bridges call it for frames from other hubs.
func (h *Hub) Deliver(channel string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.channels[channel] {
		if c.send(frame) {
			n++
		}
	}
	return n
}

func (h *Hub) encode(t envelope.Type, channel string, data any) ([]byte, error) {
	env, err := envelope.NewAt(t, channel, data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.EncodeFailed, err)
	}
	return envelope.Encode(env)
}

// Publish sends a message envelope to the subscribers of channel and returns
// how many were reached.
func (h *Hub) Publish(channel string, data any) (int, error) {
	if h.isClosed() {
		return 0, xerr.HubClosed
	}
	frame, err := h.encode(envelope.Message, channel, data)
	if err != nil {
		return 0, err
	}
	return h.relay(channel, frame), nil
}

// Broadcast sends env to every connected client.
func (h *Hub) Broadcast(env envelope.Envelope) (int, error) {
	if h.isClosed() {
		return 0, xerr.HubClosed
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	frame, err := envelope.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", xerr.EncodeFailed, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.conns {
		if c.send(frame) {
			n++
		}
	}
	return n, nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Subscribers returns the number of clients subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels returns the channels with at least one subscriber, sorted.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels))
	for ch := range h.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.logger.Info("hub closed", xlog.Int("clients", len(conns)))
	return nil
}
