package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsJobs(t *testing.T) {
	q := NewQueue(10, 2)
	q.Start()

	var ran atomic.Int64
	for range 5 {
		ok := q.Enqueue(Job{
			Run: func() error {
				ran.Add(1)
				return nil
			},
		})
		assert.True(t, ok)
	}

	q.Stop()
	assert.Equal(t, int64(5), ran.Load())
}

func TestQueueFullRejectsJob(t *testing.T) {
	q := NewQueue(1, 1)
	// not started: nothing drains the channel

	ok := q.Enqueue(Job{Run: func() error { return nil }})
	assert.True(t, ok)

	ok = q.Enqueue(Job{Run: func() error { return nil }})
	assert.False(t, ok, "a full queue should reject without blocking")
}

func TestQueueOnFail(t *testing.T) {
	q := NewQueue(10, 1)
	q.Start()

	boom := errors.New("boom")
	var got error
	var mu sync.Mutex

	q.Enqueue(Job{
		Run: func() error { return boom },
		OnFail: func(err error) {
			mu.Lock()
			got = err
			mu.Unlock()
		},
	})

	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, boom, got)
}

func TestQueueStopWaitsForInflight(t *testing.T) {
	q := NewQueue(10, 2)
	q.Start()

	var done atomic.Bool
	q.Enqueue(Job{
		Run: func() error {
			time.Sleep(50 * time.Millisecond)
			done.Store(true)
			return nil
		},
	})

	q.Stop()
	assert.True(t, done.Load(), "Stop should wait for in-flight jobs")
}

func TestQueueZeroWorkersDefaultsToOne(t *testing.T) {
	q := NewQueue(1, 0)
	q.Start()

	var ran atomic.Bool
	q.Enqueue(Job{Run: func() error {
		ran.Store(true)
		return nil
	}})

	q.Stop()
	assert.True(t, ran.Load())
}
