// Package sim implements the discrete-event clock that drives the whole
// simulation: a min-heap of timestamped continuations executed strictly
// in non-decreasing time order, with deterministic tie-breaking by
// insertion sequence.
package sim

import (
	"container/heap"
)

// Continuation is a unit of work scheduled to run at a specific
// simulated time.
type Continuation func(now float64)

type event struct {
	at       float64
	sequence uint64
	fn       Continuation
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].sequence < h[j].sequence
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Clock is the simulation's single-threaded event loop. Events at the
// same timestamp run in the order they were scheduled, which falls
// directly out of the sequence tie-break above.
type Clock struct {
	now      float64
	heap     eventHeap
	sequence uint64
}

// NewClock creates a clock starting at simulated time 0.
func NewClock() *Clock {
	c := &Clock{}
	heap.Init(&c.heap)
	return c
}

// Now returns the clock's current simulated time.
func (c *Clock) Now() float64 {
	return c.now
}

// At schedules fn to run at absolute simulated time `at`. Scheduling in
// the past (at < Now()) is clamped to Now(), matching the "an event fired
// immediately runs at the current instant" semantics of sleep(0).
func (c *Clock) At(at float64, fn Continuation) {
	if at < c.now {
		at = c.now
	}
	c.sequence++
	heap.Push(&c.heap, &event{at: at, sequence: c.sequence, fn: fn})
}

// After schedules fn to run `delay` seconds from now.
func (c *Clock) After(delay float64, fn Continuation) {
	c.At(c.now+delay, fn)
}

// Pending reports whether any event remains scheduled.
func (c *Clock) Pending() bool {
	return c.heap.Len() > 0
}

// Step pops and runs the single earliest-scheduled event, advancing Now()
// to its timestamp. It returns false if the queue was empty.
func (c *Clock) Step() bool {
	if c.heap.Len() == 0 {
		return false
	}
	e := heap.Pop(&c.heap).(*event)
	c.now = e.at
	e.fn(c.now)
	return true
}

// Run drives the clock until the queue empties or until shouldStop(now)
// returns true, checked after every event. shouldStop may itself schedule
// further events (e.g. a termination check that still has tracers to
// flush); this loop always observes shouldStop immediately after Step.
func (c *Clock) Run(shouldStop func(now float64) bool) {
	for c.Step() {
		if shouldStop != nil && shouldStop(c.now) {
			return
		}
	}
}
