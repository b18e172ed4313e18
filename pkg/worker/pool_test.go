package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/metric"
)

func TestPoolProcessesAllWork(t *testing.T) {
	var processed int64
	var wg sync.WaitGroup

	pool := NewPool(4, 64, func(_ context.Context, _ int) error {
		atomic.AddInt64(&processed, 1)
		wg.Done()
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	assert.Equal(t, int64(50), atomic.LoadInt64(&processed))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolCountsFailures(t *testing.T) {
	var wg sync.WaitGroup

	pool := NewPool(2, 16, func(_ context.Context, n int) error {
		defer wg.Done()
		if n%2 == 0 {
			return errors.New("even numbers fail")
		}
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})

	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the worker, second fills the queue. Submission
	// is non-blocking so saturation must surface as ErrQueueFull.
	require.NoError(t, pool.Submit(1))
	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(i); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull)
	assert.Greater(t, pool.Stats().Rejected, int64(0))
}

func TestPoolLifecycleErrors(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	// Stop is idempotent.
	require.NoError(t, pool.Stop(time.Second))
}

func TestPoolNilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}

func TestPoolWithMetrics(t *testing.T) {
	registry := metric.NewRegistry()
	var wg sync.WaitGroup

	pool := NewPool(2, 8, func(_ context.Context, _ string) error {
		wg.Done()
		return nil
	}, WithMetrics[string](registry, "test_pool"))

	require.NoError(t, pool.Start(context.Background()))
	wg.Add(3)
	for _, w := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(w))
	}
	wg.Wait()
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(3), pool.Stats().Processed)
}
