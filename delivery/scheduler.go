package delivery

import (
	"container/heap"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type scheduledItem struct {
	attemptID string
	due       time.Time
}

type scheduleHeap []scheduledItem

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].attemptID < h[j].attemptID
	}
	return h[i].due.Before(h[j].due)
}

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) { *h = append(*h, x.(scheduledItem)) }

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Schedule is an in-process time-ordered queue of due delivery attempts.
// Each pushed attempt is popped at most once; re-pushing the same attempt
// before it is popped keeps the earliest due time.
type Schedule struct {
	mu      sync.Mutex
	items   scheduleHeap
	pending map[string]time.Time
}

// NewSchedule builds an empty schedule.
func NewSchedule() *Schedule {
	return &Schedule{pending: map[string]time.Time{}}
}

// PushDue enqueues an attempt to become ready at the given time.
func (s *Schedule) PushDue(attemptID string, when time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pending[attemptID]; ok {
		if !when.Before(existing) {
			return
		}
	}
	s.pending[attemptID] = when
	heap.Push(&s.items, scheduledItem{attemptID: attemptID, due: when})
}

// PopReady returns the next attempt whose due time is at or before now.
// The second return is false when nothing is ready.
func (s *Schedule) PopReady(now time.Time) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.items.Len() > 0 {
		head := s.items[0]
		due, ok := s.pending[head.attemptID]
		if !ok || !due.Equal(head.due) {
			// Stale heap entry from a re-push; drop it.
			heap.Pop(&s.items)
			continue
		}
		if head.due.After(now) {
			return "", false
		}
		heap.Pop(&s.items)
		delete(s.pending, head.attemptID)
		return head.attemptID, true
	}
	return "", false
}

// Len reports the number of attempts waiting in the schedule.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var _ core.AttemptQueue = (*Schedule)(nil)
