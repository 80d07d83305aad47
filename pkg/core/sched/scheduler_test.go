package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := New()
	defer s.Stop()

	order := make(chan int, 3)
	s.Schedule(60*time.Millisecond, func() { order <- 3 })
	s.Schedule(20*time.Millisecond, func() { order <- 1 })
	s.Schedule(40*time.Millisecond, func() { order <- 2 })

	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("fired %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d", want)
		}
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Bool
	h := s.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	h.Cancel()
	h.Cancel() // idempotent

	time.Sleep(120 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("cancelled callback fired")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after cancel, want 0", s.Len())
	}
}

func TestScheduler_CancelAfterFireIsNoop(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan struct{})
	h := s.Schedule(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback did not fire")
	}
	h.Cancel()
}

func TestScheduler_StopDropsPending(t *testing.T) {
	s := New()

	var fired atomic.Bool
	s.Schedule(time.Hour, func() { fired.Store(true) })
	s.Stop()

	if fired.Load() {
		t.Fatalf("pending callback fired during Stop")
	}

	// Scheduling after Stop must not panic; the handle is inert.
	h := s.Schedule(time.Millisecond, func() { fired.Store(true) })
	h.Cancel()
}

func TestScheduler_RearmEarlierDeadline(t *testing.T) {
	s := New()
	defer s.Stop()

	got := make(chan string, 2)
	s.Schedule(200*time.Millisecond, func() { got <- "late" })
	s.Schedule(20*time.Millisecond, func() { got <- "early" })

	select {
	case v := <-got:
		if v != "early" {
			t.Fatalf("first fire = %q, want early", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("earlier entry did not preempt the pending wait")
	}
}
