package client

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"sutext.github.io/realtime/backoff"
)

// Retrier is the reconnection policy: it counts consecutive failed attempts,
// computes the delay of the next one and keeps at most one timer armed.
// A negative limit means unlimited attempts.
type Retrier struct {
	mu      sync.Mutex
	limit   int
	count   int
	backoff backoff.Backoff
	clock   clock.Clock
	timer   *clock.Timer
	gen     uint64
}

func NewRetrier(limit int, b backoff.Backoff) *Retrier {
	if b == nil {
		b = backoff.Default()
	}
	return &Retrier{
		limit:   limit,
		backoff: b,
		clock:   clock.New(),
	}
}

func (r *Retrier) setClock(clk clock.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clk
}

// Limit returns the attempt ceiling.
func (r *Retrier) Limit() int {
	return r.limit
}

// Attempts returns the number of attempts scheduled since the last reset.
func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Pending reports whether a retry timer is armed.
func (r *Retrier) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// can reserves the next attempt. ok is false once the ceiling is reached.
func (r *Retrier) can() (attempt int, delay time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit >= 0 && r.count >= r.limit {
		return r.count, 0, false
	}
	r.count++
	return r.count, r.backoff.Next(r.count), true
}

// retry arms a timer running fn after delay, replacing any armed timer.
func (r *Retrier) retry(delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(delay, func() {
		r.mu.Lock()
		if gen != r.gen {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		fn()
	})
}

// cancel disarms the pending timer, if any.
func (r *Retrier) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Retrier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = 0
}

func (r *Retrier) stopLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
