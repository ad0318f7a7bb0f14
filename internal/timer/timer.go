// Package timer implements the bouncer's one-shot timer service: a
// container/heap min-heap of pending timers ordered by expiry, drained once
// per idle tick by whoever owns the loop (see netio.NewLoop's idle hook).
//
// A heap is stdlib by design: no library in the retrieved pack specializes
// in in-process one-shot expiry ordering (robfig/cron and similar solve
// recurring cron-style schedules, a different problem), so reaching for one
// would add a mismatched abstraction rather than serve this service.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a single pending callback, fired at most once.
type Timer struct {
	expiry   time.Time
	fn       func()
	index    int // heap bookkeeping
	canceled bool
}

// Service owns a min-heap of pending timers. It is safe for concurrent use;
// Fire is expected to be called from the single loop goroutine, while
// AddTimeout/Cancel may be called from any goroutine.
type Service struct {
	mu    sync.Mutex
	heap  timerHeap
	nowFn func() time.Time
}

// NewService creates an empty timer service.
func NewService() *Service {
	return &Service{nowFn: time.Now}
}

// AddTimeout schedules fn to run after d elapses (measured from the call)
// and returns a handle that can be passed to Cancel. fn runs on whichever
// goroutine calls Fire — normally the loop goroutine — never on its own
// goroutine.
func (s *Service) AddTimeout(d time.Duration, fn func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Timer{expiry: s.now().Add(d), fn: fn}
	heap.Push(&s.heap, t)
	return t
}

// Cancel prevents t from firing, if it hasn't already, and reports whether
// the cancellation actually stopped a pending timer (false if t had already
// fired or been canceled). It is safe to call more than once.
func (s *Service) Cancel(t *Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index < 0 || t.index >= len(s.heap) || s.heap[t.index] != t {
		return false
	}
	t.canceled = true
	heap.Remove(&s.heap, t.index)
	return true
}

// Fire pops and runs every timer whose expiry has passed, in expiry order.
// It is the idle-tick hook wired into netio.Loop.
func (s *Service) Fire() {
	now := s.now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].expiry.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.heap).(*Timer)
		s.mu.Unlock()

		if !t.canceled {
			t.fn()
		}
	}
}

// Len reports the number of timers currently pending.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

func (s *Service) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
