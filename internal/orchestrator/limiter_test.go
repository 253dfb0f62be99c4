package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLimiterBoundsConcurrency 并发占用数永远不超过容量
func TestLimiterBoundsConcurrency(t *testing.T) {
	const capacity = 3
	const workers = 20

	limiter := NewLimiter(capacity)
	var current, peak int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, limiter.Acquire(context.Background()))
			defer limiter.Release()

			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(capacity))
	assert.Equal(t, 0, limiter.InUse())
}

// TestLimiterAcquireCancelled 许可耗尽时取消ctx应立即返回
func TestLimiterAcquireCancelled(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestLimiterZeroCapacity 非法容量退化为1
func TestLimiterZeroCapacity(t *testing.T) {
	limiter := NewLimiter(0)
	assert.Equal(t, 1, limiter.Capacity())
}
