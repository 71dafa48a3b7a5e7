package client

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/stats"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

// Listener is the handle of one registration.
type Listener struct {
	id     uint64
	key    Key
	router *router
}

func (l *Listener) Key() Key {
	return l.key
}

// Off removes the registration. It reports whether it was still registered.
func (l *Listener) Off() bool {
	if l == nil || l.router == nil {
		return false
	}
	return l.router.remove(l)
}

type entry struct {
	id uint64
	fn func(any)
}

type router struct {
	mu     sync.Mutex
	next   uint64
	sets   map[Key][]entry
	logger *xlog.Logger
	stats  stats.Handler
	// onPanic is told about every recovered listener panic.
	onPanic func(key Key, p any)
}

func newRouter(logger *xlog.Logger, st stats.Handler) *router {
	return &router{
		sets:   make(map[Key][]entry),
		logger: logger,
		stats:  st,
	}
}

func (r *router) add(key Key, fn func(any)) *Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.sets[key] = append(r.sets[key], entry{id: r.next, fn: fn})
	return &Listener{id: r.next, key: key, router: r}
}

func (r *router) remove(l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sets[l.key]
	for i, e := range set {
		if e.id != l.id {
			continue
		}
		if len(set) == 1 {
			delete(r.sets, l.key)
			return true
		}
		next := make([]entry, 0, len(set)-1)
		next = append(next, set[:i]...)
		next = append(next, set[i+1:]...)
		r.sets[l.key] = next
		return true
	}
	return false
}

func (r *router) len(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets[key])
}

func (r *router) keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

func (r *router) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = make(map[Key][]entry)
}

// emit calls every listener of key with v. The set is read once, so
// listeners added or removed by a running listener take effect next time.
func (r *router) emit(key Key, v any) {
	r.mu.Lock()
	set := r.sets[key]
	r.mu.Unlock()
	for _, e := range set {
		r.call(key, e, v)
	}
}

// dispatch routes an inbound envelope to its type, its channel and the
// all listeners, in that order.
func (r *router) dispatch(env envelope.Envelope) {
	r.emit(Key{kind: kindType, name: string(env.Type)}, env)
	if env.Channel != "" {
		r.emit(Key{kind: kindChannel, name: env.Channel}, env)
	}
	r.emit(Key{kind: kindAll}, env)
}

func (r *router) call(key Key, e entry, v any) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("listener panicked",
				xlog.Str("key", key.String()),
				xlog.Any("panic", p),
				xlog.Str("stack", string(debug.Stack())),
			)
			r.stats.HandleDispatch(context.Background(), &stats.HandlerPanic{Key: key.String(), Value: p})
			if r.onPanic != nil {
				r.onPanic(key, p)
			}
		}
	}()
	e.fn(v)
}

// panicError wraps a recovered listener panic.
func panicError(key Key, p any) error {
	return fmt.Errorf("%w: %s: %v", xerr.HandlerPanicked, key, p)
}
