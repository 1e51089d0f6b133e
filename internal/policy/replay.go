package policy

import (
	"sync"

	"adaptive-trader/internal/pattern"
)

// Transition is one unit of learning experience. Reward arrives from the
// outcome feed as an opaque scalar; RealizedReturn is the short-horizon
// price move used to label the recognizer readout.
type Transition struct {
	State          pattern.MarketState
	Action         float64 // executed position target
	Reward         float64
	RealizedReturn float64
	Next           pattern.MarketState
	Terminal       bool
}

// ReplayBuffer is a bounded FIFO of transitions. Writers (outcome feed) and
// readers (training snapshots) may run concurrently.
type ReplayBuffer struct {
	mu       sync.Mutex
	buf      []Transition
	capacity int
	head     int // index of oldest entry once full
	full     bool
}

// NewReplayBuffer creates a buffer holding at most capacity transitions.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayBuffer{
		buf:      make([]Transition, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a transition, evicting the oldest entry at capacity.
func (r *ReplayBuffer) Add(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		r.buf = append(r.buf, t)
		if len(r.buf) == r.capacity {
			r.full = true
		}
		return
	}
	r.buf[r.head] = t
	r.head = (r.head + 1) % r.capacity
}

// Len returns the current number of stored transitions.
func (r *ReplayBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Snapshot returns a point-in-time copy, oldest first. Training reads the
// copy so concurrent writes never corrupt a batch.
func (r *ReplayBuffer) Snapshot() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Transition, 0, len(r.buf))
	if !r.full {
		out = append(out, r.buf...)
		return out
	}
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}

// Recent returns a copy of the newest n transitions, oldest first.
func (r *ReplayBuffer) Recent(n int) []Transition {
	snap := r.Snapshot()
	if n >= len(snap) {
		return snap
	}
	return snap[len(snap)-n:]
}
