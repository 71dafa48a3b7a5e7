package queue

import (
	"container/list"
	"sync"
)

type Error uint8

var (
	ErrQueueIsClosed Error = 1
)

func (e Error) Error() string {
	switch e {
	case ErrQueueIsClosed:
		return "queue is closed"
	default:
		return "unknown error"
	}
}

// Queue runs tasks one at a time, in the order they were pushed, on a single
// goroutine. It is unbounded: Push never blocks, so a running task may push
// further tasks without deadlocking.
type Queue struct {
	cond    *sync.Cond
	tasks   *list.List
	running bool
	closed  bool
	done    chan struct{}
}

func New() *Queue {
	mq := &Queue{
		cond:  sync.NewCond(&sync.Mutex{}),
		tasks: list.New(),
		done:  make(chan struct{}),
	}
	go mq.run()
	return mq
}

// Len returns the number of tasks waiting to run.
func (mq *Queue) Len() int {
	mq.cond.L.Lock()
	defer mq.cond.L.Unlock()
	return mq.tasks.Len()
}

func (mq *Queue) IsClosed() bool {
	mq.cond.L.Lock()
	defer mq.cond.L.Unlock()
	return mq.closed
}

// Push appends a task. It fails with ErrQueueIsClosed after Close.
func (mq *Queue) Push(task func()) error {
	mq.cond.L.Lock()
	defer mq.cond.L.Unlock()
	if mq.closed {
		return ErrQueueIsClosed
	}
	mq.tasks.PushBack(task)
	mq.cond.Broadcast()
	return nil
}

// Close stops accepting tasks. Tasks already queued still run; Done is
// closed once the last of them has returned.
func (mq *Queue) Close() {
	mq.cond.L.Lock()
	defer mq.cond.L.Unlock()
	if mq.closed {
		return
	}
	mq.closed = true
	mq.cond.Broadcast()
}

// Done is closed when the queue has stopped.
func (mq *Queue) Done() <-chan struct{} {
	return mq.done
}

// Wait blocks until no task is queued or running. Calling it from inside a
// task deadlocks.
func (mq *Queue) Wait() {
	mq.cond.L.Lock()
	defer mq.cond.L.Unlock()
	for mq.tasks.Len() > 0 || mq.running {
		mq.cond.Wait()
	}
}

func (mq *Queue) run() {
	defer close(mq.done)
	for {
		mq.cond.L.Lock()
		for mq.tasks.Len() == 0 && !mq.closed {
			mq.cond.Wait()
		}
		if mq.tasks.Len() == 0 {
			mq.cond.L.Unlock()
			return
		}
		task := mq.tasks.Remove(mq.tasks.Front()).(func())
		mq.running = true
		mq.cond.L.Unlock()

		task()

		mq.cond.L.Lock()
		mq.running = false
		mq.cond.Broadcast()
		mq.cond.L.Unlock()
	}
}
