package hub

import (
	"sync"

	"golang.org/x/net/websocket"
	"sutext.github.io/realtime/xlog"
)

type conn struct {
	id     string
	raw    *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	logger *xlog.Logger
	subs   map[string]struct{} // guarded by Hub.mu
}

func newConn(id string, raw *websocket.Conn, capacity int, logger *xlog.Logger) *conn {
	return &conn{
		id:     id,
		raw:    raw,
		out:    make(chan []byte, capacity),
		done:   make(chan struct{}),
		logger: logger,
		subs:   make(map[string]struct{}),
	}
}

// send queues a frame. It reports false when the connection is closed or its
// queue is full.
func (c *conn) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		c.logger.Warn("outbound queue full, frame dropped", xlog.Int("bytes", len(frame)))
		return false
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if err := websocket.Message.Send(c.raw, string(frame)); err != nil {
				c.logger.Debug("write failed", xlog.Err(err))
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.raw.Close()
	})
}
