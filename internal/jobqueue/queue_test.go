package jobqueue

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testPayload struct {
	id    int
	order *ExecOrder
}

func (testPayload) Kind() Kind { return KindCustom }

func (p testPayload) ExecOrder() *ExecOrder { return p.order }

func newTestQueue(t *testing.T, capacity uint32, nonBlocking bool) *Queue {
	t.Helper()
	q, err := NewQueue(QueueConfig{Capacity: capacity, NonBlocking: nonBlocking})
	require.NoError(t, err)
	return q
}

func TestNewQueueValidation(t *testing.T) {
	_, err := NewQueue(QueueConfig{Capacity: 0})
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestQueueFullAtCapacityOne(t *testing.T) {
	for _, nonBlocking := range []bool{false, true} {
		q := newTestQueue(t, 1, nonBlocking)

		require.NoError(t, q.Post(Job{Payload: testPayload{id: 1}}))
		err := q.Post(Job{Payload: testPayload{id: 2}})
		require.ErrorIs(t, err, ErrQueueFull)

		job, err := q.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, job.Payload.(testPayload).id)

		stats := q.Stats()
		assert.Equal(t, uint64(1), stats.Rejected)
		assert.Equal(t, uint64(1), stats.Posted)
		assert.Equal(t, 0, stats.PendingJobs)

		// The slot is usable again
		require.NoError(t, q.Post(Job{Payload: testPayload{id: 3}}))
	}
}

func TestQueueFIFO(t *testing.T) {
	q := newTestQueue(t, 16, true)
	for i := range 16 {
		require.NoError(t, q.Post(Job{Payload: testPayload{id: i}}))
	}
	assert.Equal(t, 16, q.Len())

	for i := range 16 {
		job, err := q.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, job.Payload.(testPayload).id)
	}

	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueueQuit(t *testing.T) {
	q := newTestQueue(t, 4, false)
	require.NoError(t, q.PostQuit(2))

	for range 2 {
		job, err := q.Next(context.Background())
		require.ErrorIs(t, err, ErrCancelled)
		assert.Equal(t, KindQuit, job.Kind())
	}
}

func TestTryNextNeverWaits(t *testing.T) {
	q := newTestQueue(t, 4, false)

	_, err := q.TryNext()
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Post(Job{Payload: testPayload{id: 7}}))
	job, err := q.TryNext()
	require.NoError(t, err)
	assert.Equal(t, 7, job.Payload.(testPayload).id)

	_, err = q.TryNext()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestBlockingNextHonoursContext(t *testing.T) {
	q := newTestQueue(t, 4, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockingNextWakesOnPost(t *testing.T) {
	q := newTestQueue(t, 4, false)

	got := make(chan int, 1)
	go func() {
		job, err := q.Next(context.Background())
		if err == nil {
			got <- job.Payload.(testPayload).id
		}
		close(got)
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.Post(Job{Payload: testPayload{id: 42}}))

	select {
	case id := <-got:
		assert.Equal(t, 42, id)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked consumer was not woken")
	}
}

func TestDequeueDoesNotClobberReusedSlot(t *testing.T) {
	// Three slots: the terminator plus two jobs, so the next post reuses
	// whatever slot a consumer freed last
	q := newTestQueue(t, 2, true)
	require.NoError(t, q.Post(Job{Payload: testPayload{id: 1}}))
	require.NoError(t, q.Post(Job{Payload: testPayload{id: 2}}))

	var inner Job
	var innerErr error
	fired := false
	afterHeadAdvance = func() {
		if fired {
			return
		}
		fired = true
		// Another consumer takes job 2 and frees job 1's slot, which a
		// producer fills at once
		inner, innerErr = q.TryNext()
		require.NoError(t, q.Post(Job{Payload: testPayload{id: 3}}))
	}
	t.Cleanup(func() { afterHeadAdvance = nil })

	outer, err := q.TryNext()
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, 1, outer.Payload.(testPayload).id)
	require.NoError(t, innerErr)
	assert.Equal(t, 2, inner.Payload.(testPayload).id)

	last, err := q.TryNext()
	require.NoError(t, err, "the job posted into the reused slot was lost")
	assert.Equal(t, 3, last.Payload.(testPayload).id)
	assert.Equal(t, 0, q.Len())

	_, err = q.TryNext()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestConcurrentProducersConsumers(t *testing.T) {
	const (
		producers   = 8
		consumers   = 4
		perProducer = 2000
		total       = producers * perProducer
	)

	q := newTestQueue(t, 64, false)

	var (
		seen    = make([]atomic.Int32, total)
		exits   = make([]error, consumers)
		wg      sync.WaitGroup
		workers sync.WaitGroup
	)

	for c := range consumers {
		workers.Go(func() {
			last := make([]int, producers)
			for i := range last {
				last[i] = -1
			}
			for {
				job, err := q.Next(context.Background())
				if err != nil {
					exits[c] = err
					return
				}
				id := job.Payload.(testPayload).id
				p, seq := id/perProducer, id%perProducer
				// One producer's jobs reach any single consumer in post order
				assert.Greater(t, seq, last[p], "consumer %d saw producer %d out of order", c, p)
				last[p] = seq
				seen[id].Add(1)
			}
		})
	}

	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				job := Job{Payload: testPayload{id: p*perProducer + i}}
				for q.Post(job) != nil {
					runtime.Gosched()
				}
			}
		})
	}
	wg.Wait()

	for range consumers {
		for q.Post(Quit()) != nil {
			runtime.Gosched()
		}
	}
	workers.Wait()

	for i := range seen {
		require.Equal(t, int32(1), seen[i].Load(), "job %d delivered %d times", i, seen[i].Load())
	}
	for c, err := range exits {
		assert.ErrorIs(t, err, ErrCancelled, "consumer %d", c)
	}
	assert.Equal(t, 0, q.Len())
}

func TestOrderedJobsRunInReservationOrder(t *testing.T) {
	q := newTestQueue(t, 32, true)
	order := &ExecOrder{}

	// Post in reverse so every dequeue but the last is premature
	o0, o1, o2 := order.Reserve(), order.Reserve(), order.Reserve()
	for _, o := range []uint32{o2, o1, o0} {
		require.NoError(t, q.Post(Job{Order: o, Payload: testPayload{id: int(o), order: order}}))
	}

	var executed []int
	for len(executed) < 3 {
		job, err := q.Next(context.Background())
		require.NoError(t, err)
		if !job.Ready() {
			require.NoError(t, q.Repost(job))
			continue
		}
		executed = append(executed, job.Payload.(testPayload).id)
		job.Complete()
	}

	assert.Equal(t, []int{0, 1, 2}, executed)
	assert.Positive(t, q.Stats().Requeued)
}

func TestAbandonedOrderDoesNotStall(t *testing.T) {
	order := &ExecOrder{}
	o0, o1, o2 := order.Reserve(), order.Reserve(), order.Reserve()

	order.Abandon(o1)
	assert.True(t, order.Ready(o0))

	order.Advance()
	assert.True(t, order.Ready(o2), "abandoned order must be skipped")

	order.Abandon(o2)
	assert.Equal(t, uint32(3), order.Current())
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	first := BackoffDelay(cfg, 0)
	assert.GreaterOrEqual(t, first, 900*time.Microsecond)
	assert.LessOrEqual(t, first, 1100*time.Microsecond)
	assert.Equal(t, cfg.MaxDelay, BackoffDelay(cfg, 10))
}

func TestPostWithRetry(t *testing.T) {
	q := newTestQueue(t, 1, true)
	require.NoError(t, q.Post(Job{Payload: testPayload{id: 1}}))

	cfg := RetryConfig{InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2}
	waits := 0
	drain := func(ctx context.Context, _ time.Duration) error {
		waits++
		_, err := q.Next(ctx)
		return err
	}

	require.NoError(t, PostWithRetry(context.Background(), q, Job{Payload: testPayload{id: 2}}, cfg, drain))
	assert.Equal(t, 1, waits)

	cfg.MaxRetries = 2
	err := PostWithRetry(context.Background(), q, Job{Payload: testPayload{id: 3}}, cfg, nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.MaxRetries = 0
	err = PostWithRetry(ctx, q, Job{Payload: testPayload{id: 4}}, cfg, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatsJSON(t *testing.T) {
	q := newTestQueue(t, 4, true)
	require.NoError(t, q.Post(Job{Payload: CustomPayload{Name: "noop"}}))

	stats := q.Stats()
	out, err := stats.ToJSON()
	require.NoError(t, err)

	var decoded struct {
		Queue map[string]float64 `json:"queue"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.InDelta(t, 1, decoded.Queue["pending"], 0)
	assert.InDelta(t, 25, decoded.Queue["utilization"], 0.001)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "page_stream", KindPageStream.String())
	assert.Equal(t, "quit", Job{}.Kind().String())
	assert.Equal(t, "unknown", Kind(99).String())
}
