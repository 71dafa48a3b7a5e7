package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"sutext.github.io/realtime/xerr"
)

// Conn is one live transport. ReadMessage is called from a single goroutine;
// WriteMessage and Close may be called concurrently with it.
// A read that ends because the peer sent a close frame returns *CloseError.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// DeriveURL maps the origin of a hosting page to its realtime endpoint:
// http becomes ws, https becomes wss, and the path is /ws.
func DeriveURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", xerr.InvalidOrigin, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", xerr.InvalidOrigin, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", xerr.InvalidOrigin)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/ws"}).String(), nil
}

// WebSocketDialer dials with gorilla/websocket. The zero value is usable.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Compression      bool
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  d.HandshakeTimeout,
		EnableCompression: d.Compression,
	}
	raw, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		raw.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{raw: raw, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	mu           sync.Mutex
	raw          *websocket.Conn
	writeTimeout time.Duration
	closed       bool
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.raw.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return xerr.NotConnected
	}
	if c.writeTimeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.raw.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	// best effort, the peer may already be gone
	_ = c.raw.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return c.raw.Close()
}

// closeStatus maps a read or dial error to the code and reason reported in
// DisconnectEvent. Anything other than a close frame is an abnormal closure.
func closeStatus(err error) (code int, reason string, clean bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason, true
	}
	if err == nil {
		return CloseAbnormal, "", false
	}
	return CloseAbnormal, err.Error(), false
}
