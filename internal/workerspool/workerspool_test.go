package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitToStart(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)

	const numTasks = 50
	var wg sync.WaitGroup
	var running, maxRunning atomic.Int32
	wg.Add(numTasks)
	for range numTasks {
		pool.WaitToStart(func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				max := maxRunning.Load()
				if now <= max || maxRunning.CompareAndSwap(max, now) {
					break
				}
			}
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestInline(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	ran := false
	pool.WaitToStart(func() { ran = true })
	// With parallelism disabled the task must have run inline, before returning.
	require.True(t, ran)
	assert.False(t, pool.StartIfAvailable(func() {}))
}

func TestStartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, pool.StartIfAvailable(func() { <-release; wg.Done() }))
	assert.False(t, pool.StartIfAvailable(func() {}), "pool is full")
	close(release)
	wg.Wait()
}
