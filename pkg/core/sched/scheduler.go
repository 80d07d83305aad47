// Package sched provides a single deadline-ordered timer scheduler shared by
// conversation timeout timers and escalation SLA timers. Entries carry
// cancellable handles; cancellation is idempotent and safe after firing.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Handle cancels a scheduled callback.
type Handle struct {
	once  sync.Once
	s     *Scheduler
	entry *entry
}

// Cancel removes the callback if it has not fired yet. Idempotent.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.s.cancel(h.entry)
	})
}

type entry struct {
	deadline time.Time
	fn       func()
	index    int // heap index, -1 once removed
	canceled bool
}

type timerHeap []*entry

func (t timerHeap) Len() int            { return len(t) }
func (t timerHeap) Less(i, j int) bool  { return t[i].deadline.Before(t[j].deadline) }
func (t timerHeap) Swap(i, j int)       { t[i], t[j] = t[j], t[i]; t[i].index = i; t[j].index = j }
func (t *timerHeap) Push(x any)         { e := x.(*entry); e.index = len(*t); *t = append(*t, e) }
func (t *timerHeap) Pop() any {
	old := *t
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*t = old[:n-1]
	return e
}

// Scheduler runs scheduled callbacks from a single goroutine in deadline
// order. Callbacks run on the scheduler goroutine and should hand off any
// blocking work.
type Scheduler struct {
	mu      sync.Mutex
	heap    timerHeap
	wake    chan struct{}
	stopped bool
	done    chan struct{}
	now     func() time.Time
}

// New creates and starts a scheduler.
func New() *Scheduler {
	return NewWithClock(time.Now)
}

// NewWithClock creates a scheduler with an injected clock. The clock governs
// due-ness checks; waiting still uses wall-clock timers.
func NewWithClock(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		now:  now,
	}
	go s.run()
	return s
}

// Schedule registers fn to run after d. It returns a handle whose Cancel is
// idempotent; cancelling after the callback fired is a no-op.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Handle {
	e := &entry{deadline: s.now().Add(d), fn: fn, index: -1}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return &Handle{s: s, entry: e}
	}
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	s.kick()
	return &Handle{s: s, entry: e}
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Stop halts the scheduler. Pending entries are dropped without firing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.heap = nil
	s.mu.Unlock()

	s.kick()
	<-s.done
}

func (s *Scheduler) cancel(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e == nil || e.canceled {
		return
	}
	e.canceled = true
	if e.index >= 0 {
		heap.Remove(&s.heap, e.index)
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var fns []func()

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		now := s.now()
		for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
			e := heap.Pop(&s.heap).(*entry)
			if !e.canceled {
				e.canceled = true // a fired entry cannot be cancelled
				fns = append(fns, e.fn)
			}
		}
		wait := time.Hour
		if len(s.heap) > 0 {
			wait = s.heap[0].deadline.Sub(now)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		for _, fn := range fns {
			fn()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		}
	}
}
