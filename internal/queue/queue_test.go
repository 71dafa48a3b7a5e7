package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	mq := New()
	defer mq.Close()

	var got []int
	for i := range 100 {
		require.NoError(t, mq.Push(func() { got = append(got, i) }))
	}
	mq.Wait()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueuePushFromTask(t *testing.T) {
	mq := New()
	defer mq.Close()

	var got []string
	require.NoError(t, mq.Push(func() {
		got = append(got, "outer")
		_ = mq.Push(func() { got = append(got, "inner") })
	}))
	require.NoError(t, mq.Push(func() { got = append(got, "second") }))
	mq.Wait()
	assert.Equal(t, []string{"outer", "second", "inner"}, got)
}

func TestQueueNeverRunsConcurrently(t *testing.T) {
	mq := New()
	defer mq.Close()

	var (
		mu     sync.Mutex
		active int
		peak   int
		wg     sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = mq.Push(func() {
					mu.Lock()
					active++
					peak = max(peak, active)
					mu.Unlock()
					mu.Lock()
					active--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	mq.Wait()
	assert.Equal(t, 1, peak)
}

func TestQueueClose(t *testing.T) {
	mq := New()
	ran := false
	require.NoError(t, mq.Push(func() { ran = true }))
	mq.Close()
	<-mq.Done()
	assert.True(t, ran)
	assert.True(t, mq.IsClosed())
	assert.ErrorIs(t, mq.Push(func() {}), ErrQueueIsClosed)
}

func BenchmarkPush(b *testing.B) {
	mq := New()
	defer mq.Close()
	for b.Loop() {
		_ = mq.Push(func() {})
	}
	mq.Wait()
}
