// Package resource loads, shares and streams audio assets.
//
// A Manager owns a job queue and a pool of worker goroutines. Registered
// assets live in reference counted nodes indexed by name hash, so any number
// of buffered sources can read one decoded copy. Streaming sources decode
// into two pages of their own and never share data.
//
// Every read is non-blocking: data that is not ready yet yields ErrBusy and
// the caller polls again, typically from its audio callback.
package resource

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

// idlePoll is how long a worker or waiter sleeps when a non-blocking queue is empty
const idlePoll = 500 * time.Microsecond

type kindCounters struct {
	posted   atomic.Uint64
	rejected atomic.Uint64
	requeued atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64
	nanos    atomic.Int64
}

// Manager coordinates asset nodes, sources and the worker pool.
type Manager struct {
	cfg      Config
	log      logger.Logger
	metrics  MetricsRecorder
	registry *decoder.Registry
	queue    *jobqueue.Queue

	treeMu sync.Mutex
	tree   *nodeTree

	workers     int
	wg          sync.WaitGroup
	workerCtx   context.Context
	stopWorkers context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	closed    atomic.Bool
	stopped   atomic.Bool
	closeOnce sync.Once

	kinds [jobqueue.KindCount]kindCounters
}

// New creates a manager and starts its workers.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q, err := jobqueue.NewQueue(jobqueue.QueueConfig{
		Capacity:    cfg.JobQueueCapacity,
		NonBlocking: cfg.NonBlocking,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	workerCtx, stopWorkers := context.WithCancel(ctx)
	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		registry: decoder.DefaultRegistry(cfg.Decoders...),
		queue:    q,
		tree:     newNodeTree(),
		workers:  resolveJobThreads(cfg.JobThreadCount),
		ctx:      ctx,
		cancel:   cancel,

		workerCtx:   workerCtx,
		stopWorkers: stopWorkers,
	}

	for range m.workers {
		m.wg.Go(m.worker)
	}

	m.log.Info("resource manager started",
		logger.Int("workers", m.workers),
		logger.Uint32("queue_capacity", cfg.JobQueueCapacity),
		logger.Bool("non_blocking", cfg.NonBlocking),
		logger.Duration("page_size", cfg.PageSize),
		logger.Int("decoders", len(m.registry.Backends())))
	return m, nil
}

// Close stops the workers and runs any jobs still queued, so every pending
// teardown completes. Sources must be closed before the manager.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		for range m.workers {
			if perr := m.postRequired(jobqueue.Quit()); perr != nil {
				err = errors.Join(err, perr)
				m.stopWorkers()
			}
		}
		m.wg.Wait()
		m.stopWorkers()
		m.stopped.Store(true)

		m.drain()

		m.treeMu.Lock()
		leaked := m.tree.len()
		m.tree.each(func(n *assetNode) bool {
			_ = n.closeDecoder()
			n.result.setUnavailable()
			n.releaseData()
			return true
		})
		m.tree.clear()
		m.treeMu.Unlock()

		if leaked > 0 {
			m.log.Warn("asset nodes still registered at close", logger.Int("nodes", leaked))
		}
		m.metrics.AssetNodes(0)
		m.cancel()
		m.log.Info("resource manager closed")
	})
	return err
}

// drain runs the jobs left after the workers exited. When a full pass makes
// no progress, the order a stalled target waits on is skipped.
func (m *Manager) drain() {
	stalled := 0
	for {
		job, err := m.queue.TryNext()
		if errors.Is(err, jobqueue.ErrEmpty) {
			return
		}
		if err != nil {
			continue
		}

		ran, _ := m.process(job)
		if ran {
			stalled = 0
			continue
		}
		stalled++
		if stalled > m.queue.Len()+1 {
			// The predecessor it waits on was never posted
			m.log.Warn("skipping lost execution order",
				logger.String("job_kind", job.Kind().String()),
				logger.Uint32("order", job.Order))
			job.SkipStalled()
			stalled = 0
		}
	}
}

func (m *Manager) worker() {
	for {
		job, err := m.queue.Next(m.workerCtx)
		switch {
		case err == nil:
			_, _ = m.process(job)
		case errors.Is(err, jobqueue.ErrCancelled):
			return
		case errors.Is(err, jobqueue.ErrEmpty):
			if sleepContext(m.workerCtx, idlePoll) != nil {
				return
			}
		default:
			// Context cancelled
			return
		}
	}
}

// process runs job if its target order allows, otherwise puts it back.
func (m *Manager) process(job jobqueue.Job) (bool, error) {
	kind := job.Kind()
	if !job.Ready() {
		m.kinds[kind].requeued.Add(1)
		m.metrics.JobRequeued(kind.String())
		if err := m.queue.Repost(job); err != nil {
			if err := m.postRequired(job); err != nil {
				job.Abandon()
				m.log.Error("dropping ordered job", logger.String("job_kind", kind.String()), logger.Error(err))
			}
		}
		runtime.Gosched()
		return false, nil
	}

	start := time.Now()
	err := m.execute(job)
	job.Complete()
	elapsed := time.Since(start)

	c := &m.kinds[kind]
	c.executed.Add(1)
	c.nanos.Add(int64(elapsed))
	if err != nil {
		c.failed.Add(1)
		m.log.Warn("job failed",
			logger.String("job_kind", kind.String()),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	}
	m.metrics.JobExecuted(kind.String(), elapsed, err)
	return true, err
}

// execute dispatches a job to its handler, turning panics into errors.
func (m *Manager) execute(job jobqueue.Job) (err error) {
	kind := job.Kind()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Errorf("job %s panicked: %v", kind, r)).
				Component(ComponentResource).
				Category(errors.CategoryJobExecution).
				Context("job_kind", kind.String()).
				Priority(errors.PriorityHigh).
				Build()
		}
	}()

	switch p := job.Payload.(type) {
	case loadNodeJob:
		return m.runLoadNode(p)
	case pageNodeJob:
		return m.runPageNode(p)
	case freeNodeJob:
		return m.runFreeNode(p)
	case loadBufferJob:
		return p.src.runLoad()
	case freeBufferJob:
		return p.src.runFree()
	case loadStreamJob:
		return p.src.runLoad()
	case pageStreamJob:
		return p.src.runPage(p.page)
	case seekStreamJob:
		return p.src.runSeek(p.frame)
	case freeStreamJob:
		return p.src.runFree()
	case jobqueue.CustomPayload:
		if p.Fn == nil {
			return nil
		}
		return p.Fn(m.ctx)
	case nil:
		return nil
	default:
		return errors.New(ErrInvalidOperation).
			Component(ComponentResource).
			Category(errors.CategoryInvalidOperation).
			Context("job_kind", kind.String()).
			Build()
	}
}

// postJob posts once and records the outcome.
func (m *Manager) postJob(job jobqueue.Job) error {
	kind := job.Kind()
	if err := m.queue.Post(job); err != nil {
		m.kinds[kind].rejected.Add(1)
		m.metrics.JobRejected(kind.String())
		return err
	}
	m.kinds[kind].posted.Add(1)
	m.metrics.JobPosted(kind.String())
	return nil
}

// postRequired posts a job that must not be lost, retrying while the queue is full.
func (m *Manager) postRequired(job jobqueue.Job) error {
	err := m.postJob(job)
	if err == nil || !errors.Is(err, ErrQueueFull) {
		return err
	}
	if err := jobqueue.PostWithRetry(m.ctx, m.queue, job, m.cfg.Retry, m.retryWait); err != nil {
		return err
	}
	m.kinds[job.Kind()].posted.Add(1)
	m.metrics.JobPosted(job.Kind().String())
	return nil
}

// pumping reports whether callers must run jobs themselves.
func (m *Manager) pumping() bool {
	return m.workers == 0 || m.stopped.Load()
}

// retryWait frees queue space by running a job on the calling goroutine,
// so a worker retrying a post cannot wait on itself.
func (m *Manager) retryWait(ctx context.Context, d time.Duration) error {
	if m.pumpOnce() {
		return nil
	}
	return sleepContext(ctx, d)
}

// pumpOnce runs one queued job on the calling goroutine.
func (m *Manager) pumpOnce() bool {
	job, err := m.queue.TryNext()
	if errors.Is(err, jobqueue.ErrCancelled) {
		// Quit jobs belong to the workers
		if err := m.queue.Post(jobqueue.Quit()); err != nil {
			m.stopWorkers()
		}
		return true
	}
	if err != nil {
		return false
	}
	_, _ = m.process(job)
	return true
}

// wait blocks until n is signalled, running jobs itself in caller-pumped mode.
func (m *Manager) wait(ctx context.Context, n *fence.Notification) error {
	if !m.pumping() {
		return n.Wait(ctx)
	}
	for !n.IsSignalled() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !m.pumpOnce() {
			if err := sleepContext(ctx, idlePoll); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessNextJob runs the next queued job on the calling goroutine. It is
// how jobs make progress when the manager has no workers. In blocking mode
// it waits for a job; otherwise it returns jobqueue.ErrEmpty.
func (m *Manager) ProcessNextJob(ctx context.Context) error {
	job, err := m.queue.Next(ctx)
	if err != nil {
		return err
	}
	_, err = m.process(job)
	return err
}

// PostJob queues a job. Ordered jobs must carry an order reserved from
// their target.
func (m *Manager) PostJob(job jobqueue.Job) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.postJob(job)
}

// PostCustom queues fn for execution on a worker.
func (m *Manager) PostCustom(name string, fn jobqueue.CustomFunc) error {
	if fn == nil {
		return ErrInvalidArgs
	}
	return m.PostJob(jobqueue.Job{Payload: jobqueue.CustomPayload{Name: name, Fn: fn}})
}

// JobThreadCount returns the number of worker goroutines.
func (m *Manager) JobThreadCount() int { return m.workers }

// Registry returns the decoder registry used for every asset.
func (m *Manager) Registry() *decoder.Registry { return m.registry }

func (m *Manager) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
