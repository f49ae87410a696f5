package jobqueue

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/audiostream/internal/slotalloc"
)

// nilHandle terminates the list; the allocator never produces it
const nilHandle = ^uint64(0)

// afterHeadAdvance runs between a successful head swap and the release of
// the old head. Tests set it to force interleavings.
var afterHeadAdvance func()

// QueueConfig configures a Queue
type QueueConfig struct {
	// Capacity is the maximum number of queued jobs
	Capacity uint32
	// NonBlocking makes Next return ErrEmpty instead of waiting
	NonBlocking bool
}

type node struct {
	next atomic.Uint64
	job  atomic.Pointer[Job]
}

// Queue is a Michael-Scott linked queue whose nodes live in a fixed slot
// array addressed by generation-tagged handles. Post and Next are safe to
// call from any number of goroutines.
type Queue struct {
	head  atomic.Uint64
	tail  atomic.Uint64
	slots *slotalloc.Allocator
	nodes []node
	sem   *semaphore.Weighted // nil in non-blocking mode

	capacity    uint32
	nonBlocking bool

	posted   atomic.Uint64
	dequeued atomic.Uint64
	rejected atomic.Uint64
	requeued atomic.Uint64
}

// NewQueue creates a queue with cfg.Capacity usable slots.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Capacity == 0 || cfg.Capacity >= math.MaxInt32 {
		return nil, ErrInvalidCapacity
	}

	// One extra slot holds the terminator node
	slots, err := slotalloc.New(cfg.Capacity + 1)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		slots:       slots,
		nodes:       make([]node, cfg.Capacity+1),
		capacity:    cfg.Capacity,
		nonBlocking: cfg.NonBlocking,
	}

	dummy, err := slots.Alloc()
	if err != nil {
		return nil, err
	}
	q.nodes[slotalloc.Index(dummy)].next.Store(nilHandle)
	q.head.Store(dummy)
	q.tail.Store(dummy)

	if !cfg.NonBlocking {
		q.sem = semaphore.NewWeighted(int64(cfg.Capacity))
		// Start with no permits, each post releases one
		q.sem.TryAcquire(int64(cfg.Capacity))
	}
	return q, nil
}

// Post appends job to the queue. It returns ErrQueueFull when no slot is
// free, in which case nothing is linked.
func (q *Queue) Post(job Job) error {
	h, err := q.slots.Alloc()
	if err != nil {
		q.rejected.Add(1)
		return ErrQueueFull
	}

	n := &q.nodes[slotalloc.Index(h)]
	j := job
	n.job.Store(&j)
	n.next.Store(nilHandle)

	for {
		tail := q.tail.Load()
		tn := &q.nodes[slotalloc.Index(tail)]
		next := tn.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next == nilHandle {
			if tn.next.CompareAndSwap(nilHandle, h) {
				q.tail.CompareAndSwap(tail, h)
				break
			}
		} else {
			// Tail is lagging, help it along
			q.tail.CompareAndSwap(tail, next)
		}
	}

	q.posted.Add(1)
	if q.sem != nil {
		q.sem.Release(1)
	}
	return nil
}

// Repost puts a job that was dequeued too early back at the end of the queue.
func (q *Queue) Repost(job Job) error {
	if err := q.Post(job); err != nil {
		return err
	}
	q.requeued.Add(1)
	return nil
}

// PostQuit posts n quit jobs, one per worker that should exit.
func (q *Queue) PostQuit(n int) error {
	for range n {
		if err := q.Post(Quit()); err != nil {
			return err
		}
	}
	return nil
}

// Next removes and returns the job at the head of the queue.
//
// In blocking mode it waits until a job is available or ctx is done. In
// non-blocking mode it returns ErrEmpty immediately. A quit job is returned
// together with ErrCancelled.
func (q *Queue) Next(ctx context.Context) (Job, error) {
	if q.sem != nil {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return Job{}, err
		}
	}
	return q.dequeue()
}

// TryNext is Next without waiting, in either mode. It returns ErrEmpty when
// nothing is queued.
func (q *Queue) TryNext() (Job, error) {
	if q.sem != nil && !q.sem.TryAcquire(1) {
		return Job{}, ErrEmpty
	}
	return q.dequeue()
}

func (q *Queue) dequeue() (Job, error) {
	var job *Job
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := q.nodes[slotalloc.Index(head)].next.Load()
		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nilHandle {
				if q.sem == nil {
					return Job{}, ErrEmpty
				}
				// A permit was granted, the post is linking right now
				runtime.Gosched()
				continue
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		job = q.nodes[slotalloc.Index(next)].job.Load()
		if q.head.CompareAndSwap(head, next) {
			if afterHeadAdvance != nil {
				afterHeadAdvance()
			}
			// Only the old head is ours. next is the terminator now and may
			// be freed and reused by another consumer at any moment.
			q.nodes[slotalloc.Index(head)].job.Store(nil)
			_ = q.slots.Free(head)
			break
		}
	}

	q.dequeued.Add(1)
	if job == nil || job.Payload == nil {
		return Job{}, ErrCancelled
	}
	return *job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return int(q.slots.Count()) - 1
}

// Capacity returns the maximum number of queued jobs.
func (q *Queue) Capacity() int {
	return int(q.capacity)
}

// NonBlocking reports whether Next polls instead of waiting.
func (q *Queue) NonBlocking() bool {
	return q.nonBlocking
}

// Stats returns a point-in-time snapshot of queue counters.
func (q *Queue) Stats() StatsSnapshot {
	pending := max(q.Len(), 0)
	return StatsSnapshot{
		Posted:           q.posted.Load(),
		Dequeued:         q.dequeued.Load(),
		Rejected:         q.rejected.Load(),
		Requeued:         q.requeued.Load(),
		PendingJobs:      pending,
		MaxQueueSize:     int(q.capacity),
		QueueUtilization: float64(pending) / float64(q.capacity) * 100,
	}
}
