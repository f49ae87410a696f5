// Package jobqueue provides a bounded, lock-free multi-producer/multi-consumer
// job queue used to hand resource loading work to worker goroutines.
package jobqueue

import (
	"context"

	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentJobQueue identifies job queue errors
const ComponentJobQueue = "jobqueue"

// Common errors that can be returned by job queue operations
var (
	ErrQueueFull = errors.New(errors.NewStd("job queue is full")).
			Component(ComponentJobQueue).
			Category(errors.CategoryQueueFull).
			Build()

	// ErrEmpty is returned by Next in non-blocking mode when no job is queued
	ErrEmpty = errors.New(errors.NewStd("job queue is empty")).
			Component(ComponentJobQueue).
			Category(errors.CategoryQueueEmpty).
			Build()

	// ErrCancelled is returned together with a quit job
	ErrCancelled = errors.New(errors.NewStd("job queue cancelled")).
			Component(ComponentJobQueue).
			Category(errors.CategoryCancellation).
			Build()

	ErrInvalidCapacity = errors.New(errors.NewStd("job queue capacity must be between 1 and 2^31")).
				Component(ComponentJobQueue).
				Category(errors.CategoryValidation).
				Build()
)

// Kind discriminates job payloads
type Kind int

const (
	KindQuit Kind = iota
	KindLoadAssetNode
	KindFreeAssetNode
	KindPageAssetNode
	KindLoadBuffer
	KindFreeBuffer
	KindLoadStream
	KindFreeStream
	KindPageStream
	KindSeekStream
	KindCustom
	kindCount
)

// KindCount is the number of job kinds, usable for per-kind arrays
const KindCount = int(kindCount)

// String returns the snake_case name used in logs and metric labels
func (k Kind) String() string {
	switch k {
	case KindQuit:
		return "quit"
	case KindLoadAssetNode:
		return "load_asset_node"
	case KindFreeAssetNode:
		return "free_asset_node"
	case KindPageAssetNode:
		return "page_asset_node"
	case KindLoadBuffer:
		return "load_buffer"
	case KindFreeBuffer:
		return "free_buffer"
	case KindLoadStream:
		return "load_stream"
	case KindFreeStream:
		return "free_stream"
	case KindPageStream:
		return "page_stream"
	case KindSeekStream:
		return "seek_stream"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Payload is the kind-specific part of a job.
type Payload interface {
	Kind() Kind
}

// Ordered is implemented by payloads whose jobs must run in reservation
// order relative to other jobs for the same target.
type Ordered interface {
	ExecOrder() *ExecOrder
}

// Job is a unit of work. A nil Payload is a quit request.
type Job struct {
	// Order is the target's reserved execution order, ignored for unordered payloads
	Order   uint32
	Payload Payload
}

// Kind returns the payload kind, KindQuit for a nil payload.
func (j Job) Kind() Kind {
	if j.Payload == nil {
		return KindQuit
	}
	return j.Payload.Kind()
}

// Ready reports whether the job may execute now with respect to its target's order.
func (j Job) Ready() bool {
	o, ok := j.Payload.(Ordered)
	if !ok || o.ExecOrder() == nil {
		return true
	}
	return o.ExecOrder().Ready(j.Order)
}

// Complete advances the target's execution order after the job has run.
func (j Job) Complete() {
	if o, ok := j.Payload.(Ordered); ok && o.ExecOrder() != nil {
		o.ExecOrder().Advance()
	}
}

// Abandon releases the job's reserved order when it will never execute.
func (j Job) Abandon() {
	if o, ok := j.Payload.(Ordered); ok && o.ExecOrder() != nil {
		o.ExecOrder().Abandon(j.Order)
	}
}

// SkipStalled abandons the order the job's target is waiting on. It is for
// draining a queue whose missing predecessor will never be posted.
func (j Job) SkipStalled() {
	if o, ok := j.Payload.(Ordered); ok && o.ExecOrder() != nil {
		e := o.ExecOrder()
		e.Abandon(e.Current())
	}
}

// Quit returns a quit job
func Quit() Job {
	return Job{}
}

// CustomFunc is executed by a worker for KindCustom jobs.
type CustomFunc func(ctx context.Context) error

// CustomPayload carries a caller supplied function. Jobs with a non-nil
// Order run in reservation order with other jobs on that target.
type CustomPayload struct {
	Name  string
	Fn    CustomFunc
	Order *ExecOrder
}

func (CustomPayload) Kind() Kind              { return KindCustom }
func (p CustomPayload) ExecOrder() *ExecOrder { return p.Order }
