package clock

import (
	"sync"
	"time"
)

// Tasks is a set of cancellable scheduled callbacks sharing one Clock.
//
// Unlike a bare time.AfterFunc, cancellation is final: once CancelAll or Close
// returns, no callback scheduled before the call is running or will run.
type Tasks struct {
	clk Clock

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]Timer
	closed  bool

	// running tracks callbacks that passed the pending check and are executing.
	running sync.WaitGroup
}

// Task identifies one scheduled callback. The zero Task is valid and cancels nothing.
type Task struct {
	id uint64
	ts *Tasks
}

func NewTasks(clk Clock) *Tasks {
	if clk == nil {
		clk = Real()
	}
	return &Tasks{clk: clk, pending: map[uint64]Timer{}}
}

// Schedule runs fn after d unless cancelled first. After Close it is a no-op.
func (ts *Tasks) Schedule(d time.Duration, fn func()) Task {
	if fn == nil {
		return Task{}
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return Task{}
	}
	ts.seq++
	id := ts.seq
	ts.pending[id] = ts.clk.AfterFunc(d, func() { ts.fire(id, fn) })
	return Task{id: id, ts: ts}
}

func (ts *Tasks) fire(id uint64, fn func()) {
	ts.mu.Lock()
	if _, ok := ts.pending[id]; !ok {
		ts.mu.Unlock()
		return
	}
	delete(ts.pending, id)
	ts.running.Add(1)
	ts.mu.Unlock()

	defer ts.running.Done()
	fn()
}

// Pending returns the number of scheduled callbacks that have not fired yet.
func (ts *Tasks) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pending)
}

// Cancel stops t. It reports whether t was still pending.
func (t Task) Cancel() bool {
	if t.ts == nil || t.id == 0 {
		return false
	}
	ts := t.ts
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tm, ok := ts.pending[t.id]
	if !ok {
		return false
	}
	delete(ts.pending, t.id)
	if tm != nil {
		tm.Stop()
	}
	return true
}

// CancelAll stops every pending callback and waits for running ones to return.
// The set stays usable. Must not be called from inside a callback.
func (ts *Tasks) CancelAll() {
	ts.mu.Lock()
	ts.stopLocked()
	ts.mu.Unlock()
	ts.running.Wait()
}

// Close is CancelAll plus refusing any further Schedule calls.
func (ts *Tasks) Close() {
	ts.mu.Lock()
	ts.closed = true
	ts.stopLocked()
	ts.mu.Unlock()
	ts.running.Wait()
}

func (ts *Tasks) stopLocked() {
	for id, tm := range ts.pending {
		if tm != nil {
			tm.Stop()
		}
		delete(ts.pending, id)
	}
}
