package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	conns []ConnStats
	retry []RetryStats
}

func (r *recorder) HandleConn(_ context.Context, s ConnStats) { r.conns = append(r.conns, s) }
func (r *recorder) HandleFrame(context.Context, FrameStats) {}
func (r *recorder) HandleRetry(_ context.Context, s RetryStats) { r.retry = append(r.retry, s) }
func (r *recorder) HandleDispatch(context.Context, DispatchStats) {}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	h := Multi(a, nil, b)
	h.HandleConn(context.Background(), &ConnBegin{URL: "ws://x/ws"})
	h.HandleRetry(context.Background(), &RetryScheduled{Attempt: 1})

	assert.Len(t, a.conns, 1)
	assert.Len(t, b.conns, 1)
	assert.Len(t, b.retry, 1)
}

func TestMultiCollapses(t *testing.T) {
	assert.Equal(t, Discard, Multi())
	assert.Equal(t, Discard, Multi(nil))
	r := &recorder{}
	assert.Same(t, r, Multi(r))
}
