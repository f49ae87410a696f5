package fence

import (
	"context"
	"sync"
	"sync/atomic"
)

// Notification is a one-shot flag that can be polled or waited on.
// Signalling more than once has no further effect.
type Notification struct {
	signalled atomic.Bool
	once      sync.Once
	done      chan struct{}
	init      sync.Once
}

// NewNotification returns an unsignalled notification.
func NewNotification() *Notification {
	return &Notification{}
}

func (n *Notification) ch() chan struct{} {
	n.init.Do(func() { n.done = make(chan struct{}) })
	return n.done
}

// Signal marks the notification and wakes all waiters.
func (n *Notification) Signal() {
	n.once.Do(func() {
		n.signalled.Store(true)
		close(n.ch())
	})
}

// IsSignalled reports whether Signal has been called.
func (n *Notification) IsSignalled() bool {
	return n.signalled.Load()
}

// Done returns a channel closed on Signal.
func (n *Notification) Done() <-chan struct{} {
	return n.ch()
}

// Wait blocks until the notification is signalled or ctx is done.
func (n *Notification) Wait(ctx context.Context) error {
	select {
	case <-n.ch():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PipelineStage holds the optional observers of one loading stage.
type PipelineStage struct {
	Notifier Notifier
	Fence    *Fence
}

// Begin acquires the stage fence, if any.
func (s *PipelineStage) Begin() {
	if s != nil && s.Fence != nil {
		s.Fence.Acquire()
	}
}

// Finish signals the notifier and releases the fence. It must be called
// exactly once for every Begin, on success and on failure alike.
func (s *PipelineStage) Finish() {
	if s == nil {
		return
	}
	if s.Notifier != nil {
		s.Notifier.Signal()
	}
	if s.Fence != nil {
		_ = s.Fence.Release()
	}
}

// PipelineNotifications groups the stage observers of a resource load.
// Init fires once the source can be read, Done once all data is loaded.
type PipelineNotifications struct {
	Init PipelineStage
	Done PipelineStage
}

// InitStage returns the init stage, nil-safe.
func (p *PipelineNotifications) InitStage() *PipelineStage {
	if p == nil {
		return nil
	}
	return &p.Init
}

// DoneStage returns the done stage, nil-safe.
func (p *PipelineNotifications) DoneStage() *PipelineStage {
	if p == nil {
		return nil
	}
	return &p.Done
}

// Begin acquires both stage fences.
func (p *PipelineNotifications) Begin() {
	p.InitStage().Begin()
	p.DoneStage().Begin()
}
