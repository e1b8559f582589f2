package dispatch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs delayed tasks on a Queue.
//
// When a timer expires the task is posted to the queue and ownership is
// checked again on the queue goroutine, so a timer cancelled between firing
// and running never executes.
type Scheduler struct {
	clock clockwork.Clock
	queue *Queue

	mu     sync.Mutex
	gen    uint64
	nextID uint64
	timers map[uint64]*Timer
}

// Timer is the handle of one scheduled task.
type Timer struct {
	s     *Scheduler
	id    uint64
	gen   uint64
	clock clockwork.Timer
}

func NewScheduler(clock clockwork.Clock, queue *Queue) *Scheduler {
	return &Scheduler{
		clock:  clock,
		queue:  queue,
		timers: make(map[uint64]*Timer),
	}
}

// Schedule runs task on the queue after d.
func (s *Scheduler) Schedule(d time.Duration, task Task) *Timer {
	s.mu.Lock()
	s.nextID++
	t := &Timer{s: s, id: s.nextID, gen: s.gen}
	s.timers[t.id] = t
	s.mu.Unlock()

	ct := s.clock.AfterFunc(d, func() {
		s.queue.Post(func() {
			if s.claim(t) {
				task()
			}
		})
	})

	s.mu.Lock()
	if _, ok := s.timers[t.id]; ok {
		t.clock = ct
	} else {
		ct.Stop()
	}
	s.mu.Unlock()

	return t
}

// CancelAll cancels every pending timer. Timers that already fired but have
// not run yet are discarded as well.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for id, t := range s.timers {
		if t.clock != nil {
			t.clock.Stop()
		}
		delete(s.timers, id)
	}
}

// Pending returns the number of timers that have not run or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) claim(t *Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[t.id]; !ok || t.gen != s.gen {
		return false
	}
	delete(s.timers, t.id)
	return true
}

// Cancel stops the timer. It reports whether the task was still pending.
// Cancel on a nil Timer is a no-op.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[t.id]; !ok {
		return false
	}
	delete(s.timers, t.id)
	if t.clock != nil {
		t.clock.Stop()
	}
	return true
}

// Active reports whether the task is still waiting to run.
func (t *Timer) Active() bool {
	if t == nil {
		return false
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.timers[t.id]
	return ok
}
