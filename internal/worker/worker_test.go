package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify execution order, timeout mechanism, graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// echoExec returns the item identifier of the task
func echoExec(ctx context.Context, task Task) (any, error) {
	return task.Job.Payload.ItemIdentifier, nil
}

// blockingExec waits until the context is done
func blockingExec(ctx context.Context, task Task) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTask(id int, item string) Task {
	return Task{
		ID: types.JobID(id),
		Job: types.Job{
			ID:      types.JobID(id),
			Type:    types.JobCheckin,
			Payload: types.Payload{ItemIdentifier: item},
		},
		Timeout: time.Second,
	}
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

func TestNewPool(t *testing.T) {
	pool := NewPool(10, echoExec)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.Size())
	assert.ErrorIs(t, pool.Submit(newTask(1, "a")), ErrPoolNotStarted)
}

func TestPoolStart(t *testing.T) {
	pool := NewPool(10, echoExec)

	require.NoError(t, pool.Start(1))
	assert.Equal(t, 1, pool.Size())

	// Try to start again
	assert.Error(t, pool.Start(1))

	pool.Stop()
}

func TestPoolStartWithoutExec(t *testing.T) {
	pool := NewPool(1, nil)
	assert.Error(t, pool.Start(1))
}

// TestSingleWorkerKeepsOrder a single worker returns results in submit order
func TestSingleWorkerKeepsOrder(t *testing.T) {
	pool := NewPool(10, echoExec)
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	items := []string{"a", "b", "c", "d", "e"}
	for i, item := range items {
		require.NoError(t, pool.Submit(newTask(i+1, item)))
	}

	for i, item := range items {
		result, err := pool.ReceiveResult()
		require.NoError(t, err)
		assert.Equal(t, types.JobID(i+1), result.JobID)
		assert.Equal(t, item, result.Value)
		assert.NoError(t, result.Error)
	}
}

func TestExecErrorIsReported(t *testing.T) {
	boom := errors.New("ILS returned 500")
	pool := NewPool(1, func(ctx context.Context, task Task) (any, error) {
		return nil, boom
	})
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	require.NoError(t, pool.Submit(newTask(1, "x")))
	result := <-pool.Results()
	assert.ErrorIs(t, result.Error, boom)
}

func TestTimeout(t *testing.T) {
	pool := NewPool(1, blockingExec)
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	task := newTask(1, "slow")
	task.Timeout = time.Millisecond
	require.NoError(t, pool.Submit(task))

	result, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
}

func TestPanicBecomesError(t *testing.T) {
	pool := NewPool(1, func(ctx context.Context, task Task) (any, error) {
		panic("nil response")
	})
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	require.NoError(t, pool.Submit(newTask(7, "x")))
	result, err := pool.ReceiveResult()
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "nil response")
	assert.Equal(t, types.JobID(7), result.JobID)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentSubmit(t *testing.T) {
	pool := NewPool(100, echoExec)
	require.NoError(t, pool.Start(4))
	defer pool.Stop()

	taskCount := 50
	var wg sync.WaitGroup
	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			assert.NoError(t, pool.Submit(newTask(index, "x")))
		}(i)
	}
	wg.Wait()

	for i := 0; i < taskCount; i++ {
		_, err := pool.ReceiveResult()
		require.NoError(t, err)
	}
}

// ============================================================================
// Graceful Shutdown Tests
// ============================================================================

// TestStopWaitsForInFlight an in-flight task finishes before Stop returns
func TestStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewPool(1, func(ctx context.Context, task Task) (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	require.NoError(t, pool.Start(1))
	require.NoError(t, pool.Submit(newTask(1, "x")))
	<-started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

// TestStopKeepsFinishedResult a task that finishes during Stop is still delivered
func TestStopKeepsFinishedResult(t *testing.T) {
	for i := 0; i < 50; i++ {
		started := make(chan struct{})
		release := make(chan struct{})
		pool := NewPool(1, func(ctx context.Context, task Task) (any, error) {
			close(started)
			<-release
			return "done", nil
		})
		require.NoError(t, pool.Start(1))
		require.NoError(t, pool.Submit(newTask(1, "x")))
		<-started

		stopped := make(chan struct{})
		go func() {
			pool.Stop()
			close(stopped)
		}()
		time.Sleep(time.Millisecond)
		close(release)
		<-stopped

		var got []Result
		for r := range pool.Results() {
			got = append(got, r)
		}
		require.Len(t, got, 1, "run %d", i)
		assert.Equal(t, "done", got[0].Value)
	}
}

func TestStartNeedsResultBuffer(t *testing.T) {
	pool := NewPool(2, echoExec)
	assert.Error(t, pool.Start(3))
	assert.Equal(t, 0, pool.Size())
}

func TestStopBeforeStart(t *testing.T) {
	pool := NewPool(10, echoExec)
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(10, echoExec)
	require.NoError(t, pool.Start(1))
	pool.Stop()

	assert.Equal(t, ErrPoolClosed, pool.Submit(newTask(1, "x")))
}

func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(10, echoExec)
	assert.Equal(t, ErrPoolNotStarted, pool.Submit(newTask(1, "x")))
}

func TestReceiveResultAfterStop(t *testing.T) {
	pool := NewPool(10, echoExec)
	require.NoError(t, pool.Start(1))
	pool.Stop()

	_, err := pool.ReceiveResult()
	assert.Equal(t, ErrPoolClosed, err)
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkPoolThroughput(b *testing.B) {
	pool := NewPool(1000, echoExec)
	pool.Start(1)
	defer pool.Stop()

	go func() {
		for {
			if _, err := pool.ReceiveResult(); err != nil {
				return
			}
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(newTask(i, "x"))
	}
}
