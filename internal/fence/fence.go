// Package fence provides the wait and signal primitives used to observe
// asynchronous resource loading: a counting Fence, a one-shot Notification
// and the per-stage pipeline notifications handed to resource loads.
package fence

import (
	"context"
	"sync"

	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentFence identifies fence errors
const ComponentFence = "fence"

// ErrInvalidOperation is returned when releasing a fence that is not acquired
var ErrInvalidOperation = errors.New(errors.NewStd("fence released more times than acquired")).
	Component(ComponentFence).
	Category(errors.CategoryInvalidOperation).
	Build()

// Notifier receives a single signal when a pipeline stage finishes.
type Notifier interface {
	Signal()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) Signal() { f() }

// Fence counts outstanding operations. Wait returns once the count drops to zero.
//
// Never Wait on a fence from a worker goroutine that is responsible for
// releasing it.
type Fence struct {
	mu      sync.Mutex
	counter uint32
	zero    chan struct{}
}

// New returns a fence with a zero count.
func New() *Fence {
	return &Fence{}
}

// Acquire increments the counter.
func (f *Fence) Acquire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counter == 0 {
		f.zero = make(chan struct{})
	}
	f.counter++
}

// Release decrements the counter and wakes waiters when it reaches zero.
func (f *Fence) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counter == 0 {
		return ErrInvalidOperation
	}
	f.counter--
	if f.counter == 0 {
		close(f.zero)
	}
	return nil
}

// Signal releases the fence, which lets a Fence act as a Notifier.
func (f *Fence) Signal() {
	_ = f.Release()
}

// Count returns the current counter.
func (f *Fence) Count() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter
}

// Done returns a channel closed once the counter is zero.
func (f *Fence) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counter == 0 {
		return closedChan
	}
	return f.zero
}

// Wait blocks until the counter is zero or ctx is done.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
