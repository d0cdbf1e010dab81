package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsEnqueuedJobs(t *testing.T) {
	q := NewQueue(10, 2, nil)
	q.Start(context.Background())
	defer q.Close()

	var ran int32
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		ok := q.Enqueue(func(ctx context.Context) {
			atomic.AddInt32(&ran, 1)
			wg.Done()
		})
		require.True(t, ok)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not complete in time")
	}
	assert.EqualValues(t, 5, atomic.LoadInt32(&ran))
	assert.EqualValues(t, 5, q.Stats().Processed)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, 0, nil)
	// Don't start workers: the channel fills after exactly one Enqueue.
	require.True(t, q.Enqueue(func(ctx context.Context) {}))
	require.False(t, q.Enqueue(func(ctx context.Context) {}))
	assert.EqualValues(t, 1, q.Stats().Dropped)
}

func TestQueueRecoversPanickingJobs(t *testing.T) {
	q := NewQueue(10, 1, nil)
	q.Start(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	q.Enqueue(func(ctx context.Context) {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
	// Give the worker's deferred recover a moment to record the failure.
	time.Sleep(10 * time.Millisecond)
	q.Close()
	assert.EqualValues(t, 1, q.Stats().Failed)
}

func TestQueueCloseDrainsBeforeReturning(t *testing.T) {
	q := NewQueue(10, 2, nil)
	q.Start(context.Background())

	var count int32
	for i := 0; i < 10; i++ {
		q.Enqueue(func(ctx context.Context) {
			atomic.AddInt32(&count, 1)
		})
	}
	q.Close()
	assert.EqualValues(t, 10, atomic.LoadInt32(&count))
}
