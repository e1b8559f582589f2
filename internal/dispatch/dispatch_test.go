package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStartedQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue(zaptest.NewLogger(t))
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func syncQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Sync(ctx))
}

// recorder collects values appended from the queue goroutine.
type recorder struct {
	mu   sync.Mutex
	vals []int
}

func (r *recorder) add(v int) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.vals...)
}

func TestQueueRunsInOrder(t *testing.T) {
	q := newStartedQueue(t)
	var rec recorder

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			q.Post(func() { rec.add(i) })
		}
	}()
	wg.Wait()
	syncQueue(t, q)

	got := rec.snapshot()
	require.Len(t, got, 100)
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestQueueHoldsTasksUntilStart(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	defer q.Stop()
	var rec recorder

	q.Post(func() { rec.add(1) })
	q.Post(func() { rec.add(2) })
	assert.Equal(t, 2, q.Len())
	assert.Empty(t, rec.snapshot())

	q.Start()
	syncQueue(t, q)
	assert.Equal(t, []int{1, 2}, rec.snapshot())
}

func TestQueueRecoversFromPanic(t *testing.T) {
	q := newStartedQueue(t)
	var rec recorder

	q.Post(func() { panic("boom") })
	q.Post(func() { rec.add(7) })
	syncQueue(t, q)

	assert.Equal(t, []int{7}, rec.snapshot())
}

func TestQueueStopDropsPending(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	q.Start()

	release := make(chan struct{})
	var rec recorder
	q.Post(func() { <-release })
	q.Post(func() { rec.add(1) })
	q.Stop()
	close(release)

	assert.False(t, q.Post(func() { rec.add(2) }), "Post after Stop should report false")
	assert.ErrorIs(t, q.Sync(context.Background()), ErrStopped)
	assert.True(t, q.Stopped())
	assert.Never(t, func() bool { return len(rec.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestQueueStopFromTask(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	q.Start()
	var rec recorder

	q.Post(func() { q.Stop() })
	q.Post(func() { rec.add(1) })

	require.Eventually(t, q.Stopped, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestSchedulerFiresAfterDelay(t *testing.T) {
	q := newStartedQueue(t)
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, q)
	var rec recorder

	timer := s.Schedule(time.Second, func() { rec.add(1) })
	assert.True(t, timer.Active())
	assert.Equal(t, 1, s.Pending())

	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool { return len(rec.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, timer.Active())
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerCancel(t *testing.T) {
	q := newStartedQueue(t)
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, q)
	var rec recorder

	timer := s.Schedule(time.Second, func() { rec.add(1) })
	assert.True(t, timer.Cancel())
	assert.False(t, timer.Cancel(), "second Cancel should report false")

	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return len(rec.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	var nilTimer *Timer
	assert.False(t, nilTimer.Cancel())
	assert.False(t, nilTimer.Active())
}

func TestSchedulerCancelAll(t *testing.T) {
	q := newStartedQueue(t)
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, q)
	var rec recorder

	s.Schedule(time.Second, func() { rec.add(1) })
	s.Schedule(2*time.Second, func() { rec.add(2) })
	s.CancelAll()
	assert.Equal(t, 0, s.Pending())

	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return len(rec.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	// Timers scheduled after CancelAll still work.
	s.Schedule(time.Second, func() { rec.add(3) })
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, rec.snapshot())
}

func TestSchedulerCancelAfterFireBeforeRun(t *testing.T) {
	q := newStartedQueue(t)
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, q)
	var rec recorder

	release := make(chan struct{})
	q.Post(func() { <-release })

	s.Schedule(time.Second, func() { rec.add(1) })
	clock.Advance(time.Second)

	// The expired timer has posted its task behind the blocked one.
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	s.CancelAll()
	close(release)

	syncQueue(t, q)
	assert.Empty(t, rec.snapshot())
}

func TestSchedulerSelfRescheduling(t *testing.T) {
	q := newStartedQueue(t)
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, q)
	var rec recorder

	n := 0
	var tick func()
	tick = func() {
		n++
		rec.add(n)
		s.Schedule(time.Second, tick)
	}
	s.Schedule(time.Second, tick)

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return len(rec.snapshot()) == i }, time.Second, 5*time.Millisecond)
		syncQueue(t, q)
	}

	s.CancelAll()
	clock.Advance(time.Second)
	assert.Never(t, func() bool { return len(rec.snapshot()) > 3 }, 50*time.Millisecond, 5*time.Millisecond)
}
