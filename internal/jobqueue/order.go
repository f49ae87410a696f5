package jobqueue

import (
	"sync"
	"sync/atomic"
)

// ExecOrder serializes jobs that target the same object.
//
// Producers Reserve an order number before posting. A worker may only run a
// job whose order equals the current pointer; otherwise it reposts the job.
// Orders whose job could never be posted are Abandoned so later ones are not
// stuck behind them.
type ExecOrder struct {
	counter   atomic.Uint32
	pointer   atomic.Uint32
	mu        sync.Mutex
	abandoned map[uint32]struct{}
}

// Reserve returns the next order number for this target.
func (e *ExecOrder) Reserve() uint32 {
	return e.counter.Add(1) - 1
}

// Ready reports whether order is the next one allowed to execute.
func (e *ExecOrder) Ready(order uint32) bool {
	return e.pointer.Load() == order
}

// Current returns the order that is allowed to execute next.
func (e *ExecOrder) Current() uint32 {
	return e.pointer.Load()
}

// Advance moves the pointer past the order that just executed.
func (e *ExecOrder) Advance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skipLocked(e.pointer.Load() + 1)
}

// Abandon marks order as never going to execute.
func (e *ExecOrder) Abandon(order uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pointer.Load() == order {
		e.skipLocked(order + 1)
		return
	}
	if e.abandoned == nil {
		e.abandoned = make(map[uint32]struct{})
	}
	e.abandoned[order] = struct{}{}
}

func (e *ExecOrder) skipLocked(p uint32) {
	for {
		if _, ok := e.abandoned[p]; !ok {
			break
		}
		delete(e.abandoned, p)
		p++
	}
	e.pointer.Store(p)
}
