package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

const (
	testURL = "ws://realtime.test/ws"
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

// fakeConn is an in-memory transport. Frames pushed with deliver are read by
// the client; frames the client writes are kept in order.
type fakeConn struct {
	mu       sync.Mutex
	in       chan []byte
	fail     chan error
	done     chan struct{}
	out      [][]byte
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		fail: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case err := <-f.fail:
		return nil, err
	case <-f.done:
		return nil, &CloseError{Code: CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return xerr.NotConnected
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// deliver hands an inbound frame to the client.
func (f *fakeConn) deliver(frame string) {
	f.in <- []byte(frame)
}

// drop ends the connection from the remote side.
func (f *fakeConn) drop(err error) {
	f.fail <- err
}

func (f *fakeConn) sent() []envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]envelope.Envelope, 0, len(f.out))
	for _, b := range f.out {
		env, err := envelope.Decode(b)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) sentOf(t envelope.Type) []envelope.Envelope {
	var out []envelope.Envelope
	for _, env := range f.sent() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) raw() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.out...)
}

// fakeDialer hands out a fakeConn per dial. conns is indexed by dial, nil
// for the dials that failed.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	dials int
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.err != nil {
		d.conns = append(d.conns, nil)
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// blockingDialer never completes a dial until its context is cancelled.
type blockingDialer struct {
	mu       sync.Mutex
	started  int
	canceled int
}

func (d *blockingDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.started++
	d.mu.Unlock()
	<-ctx.Done()
	d.mu.Lock()
	d.canceled++
	d.mu.Unlock()
	return nil, ctx.Err()
}

func (d *blockingDialer) counts() (started, canceled int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started, d.canceled
}

type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func record[T any](c *Client, ev Event[T]) *recorder[T] {
	r := &recorder[T]{}
	On(c, ev, func(v T) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, v)
	})
	return r
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type harness struct {
	t      *testing.T
	clock  *clock.Mock
	dialer *fakeDialer
	client *Client
}

func newHarness(t *testing.T, options ...Option) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	d := &fakeDialer{}
	opts := append([]Option{
		WithURL(testURL),
		WithDialer(d),
		WithClock(mock),
		WithLogger(xlog.Discard()),
	}, options...)
	c := New(opts...)
	t.Cleanup(c.Close)
	return &harness{t: t, clock: mock, dialer: d, client: c}
}

// waitOpen waits for the nth dial to reach the open state.
func (h *harness) waitOpen(n int) *fakeConn {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.dialer.count() >= n && h.client.IsConnected()
	}, waitFor, tick)
	conn := h.dialer.conn(n - 1)
	require.NotNil(h.t, conn)
	return conn
}

func (h *harness) waitDials(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.dialer.count() == n }, waitFor, tick)
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.client.State() == s }, waitFor, tick)
}

func waitLen[T any](t *testing.T, r *recorder[T], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.len() == n }, waitFor, tick)
}

func channels(envs []envelope.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Channel)
	}
	return out
}

var errReset = errors.New("connection reset by peer")
