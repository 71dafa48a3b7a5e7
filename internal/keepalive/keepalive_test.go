package keepalive

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAlivePings(t *testing.T) {
	mock := clock.NewMock()
	var pings atomic.Int32
	k := New(mock, 25*time.Second)
	k.PingFunc(func() { pings.Add(1) })

	k.Start()
	defer k.Stop()
	assert.True(t, k.Running())

	mock.Add(24 * time.Second)
	assert.Equal(t, int32(0), pings.Load())

	for i := int32(1); i <= 3; i++ {
		mock.Add(25 * time.Second)
		require.Eventually(t, func() bool { return pings.Load() == i }, time.Second, time.Millisecond)
	}
}

func TestKeepAliveStartTwice(t *testing.T) {
	mock := clock.NewMock()
	var pings atomic.Int32
	k := New(mock, time.Second)
	k.PingFunc(func() { pings.Add(1) })

	k.Start()
	k.Start()
	defer k.Stop()

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return pings.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), pings.Load())
}

func TestKeepAliveStop(t *testing.T) {
	mock := clock.NewMock()
	var pings atomic.Int32
	k := New(mock, time.Second)
	k.PingFunc(func() { pings.Add(1) })

	k.Start()
	k.Stop()
	assert.False(t, k.Running())

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), pings.Load())

	k.Start()
	defer k.Stop()
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return pings.Load() == 1 }, time.Second, time.Millisecond)
}
