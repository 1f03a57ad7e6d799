package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_PreservesOrder(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithWorkers(4))

	var tasks []Task[int, int]
	for i := 0; i < 20; i++ {
		tasks = append(tasks, NewTask(i, func(ctx context.Context, n int) (int, error) {
			// later tasks finish first
			time.Sleep(time.Duration(20-n) * time.Millisecond / 4)
			return n * n, nil
		}))
	}

	results := pool.Execute(context.Background(), tasks)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, i, r.Input)
		assert.Equal(t, i*i, r.Result)
		assert.NoError(t, r.Error)
	}
	assert.NoError(t, FirstError(results))
}

func TestWorkerPool_Empty(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{})
	assert.Nil(t, pool.Execute(context.Background(), nil))
}

func TestWorkerPool_FirstErrorInInputOrder(t *testing.T) {
	pool := NewWorkerPool[string, int](DefaultPoolConfig())
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	tasks := []Task[string, int]{
		NewTask("ok", func(ctx context.Context, s string) (int, error) { return 1, nil }),
		NewTask("a", func(ctx context.Context, s string) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 0, errA
		}),
		NewTask("b", func(ctx context.Context, s string) (int, error) { return 0, errB }),
	}

	results := pool.Execute(context.Background(), tasks)
	assert.ErrorIs(t, FirstError(results), errA)
}

func TestWorkerPool_LimitsConcurrency(t *testing.T) {
	pool := NewWorkerPool[int, struct{}](PoolConfig{MaxWorkers: 2})
	var running, peak int32

	var tasks []Task[int, struct{}]
	for i := 0; i < 10; i++ {
		tasks = append(tasks, NewTask(i, func(ctx context.Context, _ int) (struct{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}, nil
		}))
	}

	pool.Execute(context.Background(), tasks)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task[int, int]{
		NewTask(1, func(ctx context.Context, n int) (int, error) { return n, ctx.Err() }),
		NewTask(2, func(ctx context.Context, n int) (int, error) { return n, ctx.Err() }),
	}

	results := pool.Execute(ctx, tasks)
	require.Len(t, results, 2)
	assert.ErrorIs(t, FirstError(results), context.Canceled)
}
