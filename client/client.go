package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/internal/keepalive"
	"sutext.github.io/realtime/internal/queue"
	"sutext.github.io/realtime/stats"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

// Client owns one realtime connection. It is safe for concurrent use.
//
// Listeners registered with On run one at a time on a dedicated goroutine,
// in the order the events happened. They may call any Client method except
// Flush.
type Client struct {
	id        string
	mu        *sync.Mutex
	url       string
	urlErr    error
	header    http.Header
	dialer    Dialer
	clock     clock.Clock
	logger    *xlog.Logger
	stats     stats.Handler
	state     State
	closed    bool
	epoch     uint64
	conn      Conn
	cancel    context.CancelFunc
	subs      map[string]struct{}
	router    *router
	events    *queue.Queue
	retrier   *Retrier
	keepalive *keepalive.KeepAlive
}

// New builds a client without connecting it. Call Connect to start.
func New(options ...Option) *Client {
	opts := newOptions(options...)
	c := &Client{
		id:      uuid.NewString(),
		mu:      new(sync.Mutex),
		header:  opts.header,
		dialer:  opts.dialer,
		clock:   opts.clock,
		stats:   opts.stats,
		state:   StateClosed,
		subs:    make(map[string]struct{}),
		events:  queue.New(),
		retrier: opts.retrier,
	}
	c.logger = opts.logger.With(xlog.Cid(c.id))
	c.url = opts.url
	if c.url == "" && opts.origin != "" {
		c.url, c.urlErr = DeriveURL(opts.origin)
	}
	if c.url == "" && c.urlErr == nil {
		c.urlErr = fmt.Errorf("%w: no url configured", xerr.InvalidOrigin)
	}
	c.router = newRouter(c.logger, c.stats)
	c.router.onPanic = c.handlerPanicked
	c.keepalive = keepalive.New(opts.clock, opts.pingInterval)
	c.keepalive.PingFunc(func() {
		c.sendEnvelope(envelope.Ping, "", nil)
	})
	return c
}

// Dial builds a client for url and starts connecting it.
func Dial(url string, options ...Option) *Client {
	c := New(append(options, WithURL(url))...)
	c.Connect()
	return c
}

func (c *Client) ID() string {
	return c.id
}
func (c *Client) URL() string {
	return c.url
}
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Connect starts a connection attempt. It does nothing while the client is
// open and replaces an attempt that is still in flight.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateOpen {
		return
	}
	c.retrier.cancel()
	c.connectLocked(0)
}

// Reconnect drops the current connection, if any, and connects again with a
// fresh attempt budget. It is the way out of an exhausted retry policy.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.retrier.cancel()
	c.retrier.reset()
	wasOpen := c.state == StateOpen
	if conn := c.teardownLocked(); conn != nil {
		go conn.Close(CloseNormalClosure, "reconnect")
	}
	if wasOpen {
		c.stats.HandleConn(context.Background(), &stats.ConnEnd{Code: CloseNormalClosure, Reason: "reconnect", Opened: true})
		c.emitLocked(Disconnect.key, DisconnectEvent{Code: CloseNormalClosure, Reason: "reconnect"})
	}
	c.connectLocked(0)
}

// Close tears the client down for good: timers are cancelled, the connection
// is closed, and every listener and subscription is dropped. Later calls on
// the client do nothing.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.retrier.cancel()
	conn := c.teardownLocked()
	if conn != nil {
		c.setStateLocked(StateClosing)
	}
	clear(c.subs)
	c.router.clear()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(CloseNormalClosure, ""); err != nil {
			c.logger.Debug("close transport", xlog.Err(err))
		}
		c.stats.HandleConn(context.Background(), &stats.ConnEnd{Code: CloseNormalClosure, Opened: true})
	}
	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
	c.events.Close()
	c.logger.Info("client closed")
}

// Flush blocks until every event produced so far has been handed to its
// listeners. Calling it from a listener deadlocks.
func (c *Client) Flush() {
	c.events.Wait()
}

// Off removes a registration made with On.
func (c *Client) Off(l *Listener) bool {
	if l == nil || l.router != c.router {
		return false
	}
	return c.router.remove(l)
}

// Listeners returns how many listeners are registered for key.
func (c *Client) Listeners(key Key) int {
	return c.router.len(key)
}

// Send writes v as one text frame. An envelope.Envelope is encoded as such,
// raw bytes are written as they are, anything else is JSON encoded. It
// reports false when the client is not open or the frame could not be
// encoded or written.
func (c *Client) Send(v any) bool {
	conn, epoch, err := c.openConn()
	if err != nil {
		c.logger.Debug("send skipped", xlog.Err(err))
		return false
	}
	data, typ, err := c.encode(v)
	if err != nil {
		c.encodeFailed(epoch, typ, err)
		return false
	}
	return c.write(conn, epoch, typ, data)
}

// Publish sends a message envelope for channel.
func (c *Client) Publish(channel string, data any) bool {
	return c.sendEnvelope(envelope.Message, channel, data)
}

// Subscribe records the channel and, when open, tells the server. The
// channel is subscribed again on every later connection. It reports whether
// the subscribe envelope was sent now.
func (c *Client) Subscribe(channel string) bool {
	if channel == "" {
		return false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("subscribe skipped", xlog.Channel(channel), xlog.Err(xerr.ClientClosed))
		return false
	}
	c.subs[channel] = struct{}{}
	c.mu.Unlock()
	return c.sendEnvelope(envelope.Subscribe, channel, nil)
}

// Unsubscribe forgets the channel and, when open, tells the server.
func (c *Client) Unsubscribe(channel string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("unsubscribe skipped", xlog.Channel(channel), xlog.Err(xerr.ClientClosed))
		return false
	}
	delete(c.subs, channel)
	c.mu.Unlock()
	return c.sendEnvelope(envelope.Unsubscribe, channel, nil)
}

// Subscriptions returns the recorded channels, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionsLocked()
}

func (c *Client) subscriptionsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug("state change", xlog.Str("from", c.state.String()), xlog.Str("to", state.String()))
	c.state = state
}

// emitLocked queues an event for the listeners of key. Holding mu while
// queueing keeps listeners seeing events in the order they happened.
func (c *Client) emitLocked(key Key, v any) {
	if err := c.events.Push(func() { c.router.emit(key, v) }); err != nil {
		c.logger.Debug("event dropped", xlog.Str("key", key.String()))
	}
}

func (c *Client) handlerPanicked(key Key, p any) {
	if key == Errors.key {
		return
	}
	err := panicError(key, p)
	if perr := c.events.Push(func() { c.router.emit(Errors.key, ErrorEvent{Err: err}) }); perr != nil {
		c.logger.Debug("event dropped", xlog.Str("key", Errors.key.String()), xlog.Err(err))
	}
}

// teardownLocked invalidates the current attempt and returns its transport,
// which the caller closes.
func (c *Client) teardownLocked() Conn {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.keepalive.Stop()
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) connectLocked(attempt int) {
	if conn := c.teardownLocked(); conn != nil {
		go conn.Close(CloseNormalClosure, "")
	}
	if c.urlErr != nil {
		c.logger.Error("cannot connect", xlog.Err(c.urlErr))
		c.setStateLocked(StateClosed)
		c.emitLocked(Errors.key, ErrorEvent{Err: c.urlErr})
		return
	}
	c.setStateLocked(StateConnecting)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	epoch := c.epoch
	c.stats.HandleConn(ctx, &stats.ConnBegin{URL: c.url, Attempt: attempt})
	c.logger.Info("connecting", xlog.URL(c.url), xlog.Attempt(attempt))
	go c.dial(ctx, cancel, epoch)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64) {
	conn, err := c.dialer.Dial(ctx, c.url, c.header)
	cancel()
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			conn.Close(CloseNormalClosure, "")
		}
		return
	}
	c.cancel = nil
	if err != nil {
		c.logger.Warn("dial failed", xlog.URL(c.url), xlog.Err(err))
		c.lostLocked(err)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.retrier.reset()
	c.setStateLocked(StateOpen)
	c.stats.HandleConn(context.Background(), &stats.ConnOpen{URL: c.url})
	c.logger.Info("connected", xlog.URL(c.url))
	c.keepalive.Start()
	c.emitLocked(Connection.key, ConnectionEvent{URL: c.url})
	channels := c.subscriptionsLocked()
	c.mu.Unlock()

	for _, ch := range channels {
		env, err := envelope.NewAt(envelope.Subscribe, ch, nil, c.clock.Now())
		if err != nil {
			continue
		}
		data, err := envelope.Encode(env)
		if err != nil {
			continue
		}
		if !c.write(conn, epoch, string(envelope.Subscribe), data) {
			break
		}
	}
	go c.readLoop(conn, epoch)
}

func (c *Client) readLoop(conn Conn, epoch uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if epoch == c.epoch {
				c.lostLocked(err)
			}
			c.mu.Unlock()
			conn.Close(CloseNormalClosure, "")
			return
		}
		c.handleFrame(epoch, data)
	}
}

func (c *Client) handleFrame(epoch uint64, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warn("drop inbound frame", xlog.Err(fmt.Errorf("%w: %v", xerr.DecodeFailed, err)), xlog.Int("bytes", len(data)))
		c.stats.HandleFrame(context.Background(), &stats.FrameDropped{Inbound: true, Reason: "decode"})
		return
	}
	c.stats.HandleFrame(context.Background(), &stats.FrameIn{Type: string(env.Type), Bytes: len(data)})
	c.logger.Debug("frame received", xlog.Type(string(env.Type)), xlog.Channel(env.Channel))
	switch env.Type {
	case envelope.Pong:
		return
	case envelope.Ping:
		c.sendEnvelope(envelope.Pong, "", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	if err := c.events.Push(func() { c.router.dispatch(env) }); err != nil {
		c.logger.Debug("envelope dropped", xlog.Type(string(env.Type)))
	}
}

// lostLocked handles the end of an attempt or connection that the
// application did not ask for, then hands over to the retry policy.
func (c *Client) lostLocked(err error) {
	code, reason, clean := closeStatus(err)
	opened := c.state == StateOpen
	c.teardownLocked()
	c.setStateLocked(StateClosed)
	c.stats.HandleConn(context.Background(), &stats.ConnEnd{Code: code, Reason: reason, Opened: opened})
	c.logger.Info("disconnected", xlog.Int("code", code), xlog.Str("reason", reason))
	if !clean {
		c.emitLocked(Errors.key, ErrorEvent{Err: err})
	}
	c.emitLocked(Disconnect.key, DisconnectEvent{Code: code, Reason: reason})
	c.scheduleLocked()
}

func (c *Client) scheduleLocked() {
	attempt, delay, ok := c.retrier.can()
	if !ok {
		c.logger.Error("reconnect attempts exhausted", xlog.Attempt(attempt))
		c.stats.HandleRetry(context.Background(), &stats.RetryExhausted{Attempts: attempt})
		c.emitLocked(ReconnectFailed.key, ReconnectFailedEvent{Attempts: attempt})
		return
	}
	c.retrier.retry(delay, func() {
		c.retryFired(attempt)
	})
	c.logger.Info("reconnect scheduled", xlog.Attempt(attempt), xlog.Delay(delay))
	c.stats.HandleRetry(context.Background(), &stats.RetryScheduled{Attempt: attempt, Delay: delay})
	c.emitLocked(Reconnecting.key, ReconnectingEvent{Attempt: attempt, Delay: delay})
}

func (c *Client) retryFired(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateClosed {
		return
	}
	c.connectLocked(attempt)
}

// openConn returns the live transport, or ClientClosed after Close and
// NotConnected while no connection is open.
func (c *Client) openConn() (Conn, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, xerr.ClientClosed
	}
	if c.state != StateOpen || c.conn == nil {
		return nil, 0, xerr.NotConnected
	}
	return c.conn, c.epoch, nil
}

func (c *Client) sendEnvelope(t envelope.Type, channel string, data any) bool {
	conn, epoch, err := c.openConn()
	if err != nil {
		c.logger.Debug("send skipped", xlog.Type(string(t)), xlog.Channel(channel), xlog.Err(err))
		return false
	}
	env, err := envelope.NewAt(t, channel, data, c.clock.Now())
	if err != nil {
		c.encodeFailed(epoch, string(t), err)
		return false
	}
	b, err := envelope.Encode(env)
	if err != nil {
		c.encodeFailed(epoch, string(t), err)
		return false
	}
	return c.write(conn, epoch, string(t), b)
}

func (c *Client) encode(v any) ([]byte, string, error) {
	switch m := v.(type) {
	case envelope.Envelope:
		return c.encodeEnvelope(m)
	case *envelope.Envelope:
		if m == nil {
			return nil, "", errors.New("nil envelope")
		}
		return c.encodeEnvelope(*m)
	case json.RawMessage:
		return m, "raw", nil
	case []byte:
		return m, "raw", nil
	default:
		b, err := json.Marshal(v)
		return b, "raw", err
	}
}

func (c *Client) encodeEnvelope(env envelope.Envelope) ([]byte, string, error) {
	if env.Timestamp == 0 {
		env.Timestamp = c.clock.Now().UnixMilli()
	}
	b, err := envelope.Encode(env)
	return b, string(env.Type), err
}

func (c *Client) encodeFailed(epoch uint64, typ string, err error) {
	err = fmt.Errorf("%w: %v", xerr.EncodeFailed, err)
	c.logger.Warn("drop outbound frame", xlog.Type(typ), xlog.Err(err))
	c.stats.HandleFrame(context.Background(), &stats.FrameDropped{Reason: "encode"})
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch {
		c.emitLocked(Errors.key, ErrorEvent{Err: err})
	}
}

func (c *Client) write(conn Conn, epoch uint64, typ string, data []byte) bool {
	if err := conn.WriteMessage(data); err != nil {
		err = fmt.Errorf("%w: %v", xerr.WriteFailed, err)
		c.logger.Warn("drop outbound frame", xlog.Type(typ), xlog.Err(err))
		c.stats.HandleFrame(context.Background(), &stats.FrameDropped{Reason: "write"})
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch == c.epoch {
			c.emitLocked(Errors.key, ErrorEvent{Err: err})
		}
		return false
	}
	c.stats.HandleFrame(context.Background(), &stats.FrameOut{Type: typ, Bytes: len(data)})
	c.logger.Debug("frame sent", xlog.Type(typ), xlog.Int("bytes", len(data)))
	return true
}
