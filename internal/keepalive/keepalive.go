package keepalive

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// KeepAlive calls its ping function every interval while started. It does not
// wait for replies: a dead line is detected by the transport closing, the
// pings only keep idle-timeout proxies from dropping the connection.
type KeepAlive struct {
	mu       *sync.Mutex
	clock    clock.Clock
	stop     chan struct{}
	interval time.Duration
	pingFunc func()
}

func New(clk clock.Clock, interval time.Duration) *KeepAlive {
	if clk == nil {
		clk = clock.New()
	}
	return &KeepAlive{
		mu:       new(sync.Mutex),
		clock:    clk,
		interval: interval,
		pingFunc: func() {},
	}
}

// PingFunc sets the function called on every tick. Set it before Start.
func (k *KeepAlive) PingFunc(f func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pingFunc = f
}

func (k *KeepAlive) Interval() time.Duration {
	return k.interval
}

// Start arms the ticker. Starting a running keepalive does nothing.
func (k *KeepAlive) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stop != nil || k.interval <= 0 {
		return
	}
	stop := make(chan struct{})
	k.stop = stop
	ticker := k.clock.Ticker(k.interval)
	ping := k.pingFunc
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				ping()
			}
		}
	}()
}

func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stop != nil {
		close(k.stop)
		k.stop = nil
	}
}

func (k *KeepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stop != nil
}
