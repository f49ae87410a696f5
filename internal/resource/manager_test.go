package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{JobThreadCount: -2}
	require.Error(t, cfg.Validate())

	cfg = Config{JobThreadCount: MaxJobThreads + 1}
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.GreaterOrEqual(t, resolveJobThreads(AutoJobThreads), 1)
	assert.Equal(t, 3, resolveJobThreads(3))
}

func TestRegisterSameFileTwiceSharesOneNode(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRampWAV(t, fs, "shared.wav", 1000, 8000)

	var opens atomic.Int32
	m := newTestManager(t, Config{
		JobThreadCount: 2,
		FS:             fs,
		Decoders:       []decoder.Backend{countingBackend{opens: &opens}},
	})
	ctx := context.Background()

	require.NoError(t, m.RegisterFile(ctx, "shared.wav", FlagDecode, nil))
	require.NoError(t, m.RegisterFile(ctx, "shared.wav", FlagDecode, nil))

	refs, ok := m.NodeRefCount("shared.wav")
	require.True(t, ok)
	assert.Equal(t, uint32(2), refs)
	assert.Equal(t, int32(1), opens.Load(), "the asset must be decoded once")

	require.NoError(t, m.Unregister("shared.wav"))
	refs, ok = m.NodeRefCount("shared.wav")
	require.True(t, ok)
	assert.Equal(t, uint32(1), refs)
	assert.Zero(t, m.Stats().Jobs[freeNodeJob{}.Kind().String()].Posted)

	require.NoError(t, m.UnregisterFile("shared.wav"))
	_, ok = m.NodeRefCount("shared.wav")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Stats().Jobs[freeNodeJob{}.Kind().String()].Posted, "one teardown job")

	err := m.Unregister("shared.wav")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterRejectsStreamFlag(t *testing.T) {
	m := newTestManager(t, Config{FS: afero.NewMemMapFs()})
	err := m.RegisterFile(context.Background(), "a.wav", FlagStream, nil)
	require.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegisterMissingFile(t *testing.T) {
	m := newTestManager(t, Config{FS: afero.NewMemMapFs(), NonBlocking: true})

	err := m.RegisterFile(context.Background(), "missing.wav", FlagDecode, nil)
	require.Error(t, err)
	_, ok := m.NodeRefCount("missing.wav")
	assert.False(t, ok, "a failed load must not stay registered")
	pumpAll(t, m)
}

func TestRegisterRefusesAssetLargerThanMemory(t *testing.T) {
	orig := availableMemory
	availableMemory = func() (uint64, error) { return 16, nil }
	t.Cleanup(func() { availableMemory = orig })

	fs := afero.NewMemMapFs()
	writeRampWAV(t, fs, "big.wav", 1000, 8000)
	m := newTestManager(t, Config{FS: fs, NonBlocking: true})

	err := m.RegisterFile(context.Background(), "big.wav", FlagDecode, nil)
	require.ErrorIs(t, err, ErrOutOfMemory)
	_, ok := m.NodeRefCount("big.wav")
	assert.False(t, ok)
	pumpAll(t, m)
}

func TestFitsInMemory(t *testing.T) {
	orig := availableMemory
	t.Cleanup(func() { availableMemory = orig })

	availableMemory = func() (uint64, error) { return 0, errors.New("no meminfo") }
	assert.True(t, fitsInMemory(1<<20, 4), "unknown memory only checks the address space")
	assert.False(t, fitsInMemory(1<<62, 8))

	availableMemory = func() (uint64, error) { return 4000, nil }
	assert.True(t, fitsInMemory(1000, 4))
	assert.False(t, fitsInMemory(1001, 4))
	assert.True(t, fitsInMemory(1<<40, 0))
}

func TestRegisterDecodedData(t *testing.T) {
	m := newTestManager(t, Config{FS: afero.NewMemMapFs()})
	format := decoder.DataFormat{Format: decoder.FormatS32, Channels: 1, SampleRate: 8000}
	data := make([]byte, 64*4)
	for i := range 64 {
		data[i*4] = byte(i)
	}

	require.NoError(t, m.RegisterDecodedData("tone", data, 64, format))
	require.ErrorIs(t, m.RegisterDecodedData("bad", data, 65, format), ErrInvalidArgs)

	src, err := m.NewBufferedSource(context.Background(), "tone", 0, nil)
	require.NoError(t, err)
	refs, _ := m.NodeRefCount("tone")
	assert.Equal(t, uint32(2), refs)

	got, err := src.DataFormat()
	require.NoError(t, err)
	assert.Equal(t, format, got)

	buf := make([]byte, 64*4)
	n, err := src.ReadFrames(buf, 64)
	require.NoError(t, err)
	require.Equal(t, uint64(64), n)
	requireRamp(t, buf, 64, 0)

	require.NoError(t, src.Close())
	require.NoError(t, m.UnregisterData("tone"))
	_, ok := m.NodeRefCount("tone")
	assert.False(t, ok)
	assert.Zero(t, m.Stats().Jobs[freeNodeJob{}.Kind().String()].Posted, "caller data needs no teardown job")
}

func TestRegisterEncodedData(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRampWAV(t, fs, "clip.wav", 300, 8000)
	blob, err := afero.ReadFile(fs, "clip.wav")
	require.NoError(t, err)

	m := newTestManager(t, Config{FS: afero.NewMemMapFs()})
	require.NoError(t, m.RegisterEncodedData("clip.wav", blob))

	a, err := m.NewBufferedSource(context.Background(), "clip.wav", 0, nil)
	require.NoError(t, err)
	b, err := m.NewBufferedSource(context.Background(), "clip.wav", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(300), readUntilEOF(t, a, 64, func() {}))
	// Each source of encoded data has its own decoder and cursor
	assert.Equal(t, uint64(300), readUntilEOF(t, b, 100, func() {}))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, m.Unregister("clip.wav"))
}

func TestCustomJobPanicIsRecovered(t *testing.T) {
	m := newTestManager(t, Config{JobThreadCount: 1, FS: afero.NewMemMapFs()})

	require.NoError(t, m.PostCustom("boom", func(context.Context) error { panic("boom") }))

	ran := make(chan struct{})
	require.NoError(t, m.PostCustom("after", func(context.Context) error {
		close(ran)
		return nil
	}))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	require.Eventually(t, func() bool {
		return m.Stats().Jobs["custom"].Executed == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Jobs["custom"].Failed)

	require.ErrorIs(t, m.PostCustom("nil", nil), ErrInvalidArgs)
}

func TestOrderedJobsSerializeAcrossWorkers(t *testing.T) {
	const jobs = 64
	m := newTestManager(t, Config{JobThreadCount: 4, FS: afero.NewMemMapFs()})

	var (
		order  jobqueue.ExecOrder
		active atomic.Int32
		mu     sync.Mutex
		ran    []int
		begins = make([]time.Time, jobs)
		ends   = make([]time.Time, jobs)
	)
	posts := make([]jobqueue.Job, jobs)
	for i := range jobs {
		seq := i
		posts[i] = jobqueue.Job{
			Order: order.Reserve(),
			Payload: jobqueue.CustomPayload{
				Name:  "ordered",
				Order: &order,
				Fn: func(context.Context) error {
					assert.Equal(t, int32(1), active.Add(1), "job %d overlapped another", seq)
					begins[seq] = time.Now()
					time.Sleep(50 * time.Microsecond)
					ends[seq] = time.Now()
					mu.Lock()
					ran = append(ran, seq)
					mu.Unlock()
					active.Add(-1)
					return nil
				},
			},
		}
	}
	// Newest first, so every worker keeps dequeuing jobs that are not ready
	for i := jobs - 1; i >= 0; i-- {
		require.NoError(t, m.PostJob(posts[i]))
	}

	require.Eventually(t, func() bool {
		return m.Stats().Jobs["custom"].Executed == jobs
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := make([]int, jobs)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, ran)
	for i := 1; i < jobs; i++ {
		assert.False(t, begins[i].Before(ends[i-1]), "job %d began before job %d ended", i, i-1)
	}
	assert.Positive(t, m.Stats().Jobs["custom"].Requeued)
}

func TestCloseSkipsLostOrder(t *testing.T) {
	m, err := New(Config{FS: afero.NewMemMapFs(), NonBlocking: true, Logger: logger.NewDiscardLogger()})
	require.NoError(t, err)

	var (
		order jobqueue.ExecOrder
		ran   []string
	)
	// Reserved but never posted
	_ = order.Reserve()
	first, second := order.Reserve(), order.Reserve()
	record := func(name string) jobqueue.CustomFunc {
		return func(context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	require.NoError(t, m.PostJob(jobqueue.Job{Order: second, Payload: jobqueue.CustomPayload{Name: "second", Order: &order, Fn: record("second")}}))
	require.NoError(t, m.PostJob(jobqueue.Job{Order: first, Payload: jobqueue.CustomPayload{Name: "first", Order: &order, Fn: record("first")}}))

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"first", "second"}, ran, "jobs behind the lost order must still run in order")
	assert.Zero(t, m.Stats().Queue.PendingJobs)
}

func TestQueueFullIsReported(t *testing.T) {
	m := newTestManager(t, Config{JobQueueCapacity: 1, NonBlocking: true, FS: afero.NewMemMapFs()})
	noop := func(context.Context) error { return nil }

	require.NoError(t, m.PostCustom("first", noop))
	require.ErrorIs(t, m.PostCustom("second", noop), ErrQueueFull)
	assert.Equal(t, uint64(1), m.Stats().Jobs["custom"].Rejected)

	require.True(t, pump(t, m))
	assert.False(t, pump(t, m))
}

func TestAsyncLoadSignalsFences(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRampWAV(t, fs, "fenced.wav", 4000, 8000)
	m := newTestManager(t, Config{JobThreadCount: 2, FS: fs, PageSize: 10 * time.Millisecond})

	f := fence.New()
	var inits atomic.Int32
	notes := &fence.PipelineNotifications{
		Init: fence.PipelineStage{Fence: f, Notifier: fence.NotifierFunc(func() { inits.Add(1) })},
		Done: fence.PipelineStage{Fence: f},
	}

	src, err := m.NewBufferedSource(context.Background(), "fenced.wav", FlagDecode|FlagAsync, notes)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))

	assert.Equal(t, int32(1), inits.Load())
	require.NoError(t, src.Result())
	length, err := src.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), length)
	require.NoError(t, src.Close())
}

func TestAsyncRegisterFailureReachesWaitInit(t *testing.T) {
	m := newTestManager(t, Config{JobThreadCount: 1, FS: afero.NewMemMapFs()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.NewBufferedSource(ctx, "missing.wav", FlagDecode|FlagAsync|FlagWaitInit, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBusy))
}

func TestCloseDrainsPendingJobs(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRampWAV(t, fs, "drain.wav", 2000, 8000)

	m, err := New(Config{FS: fs, PageSize: 10 * time.Millisecond, NonBlocking: true, Logger: logger.NewDiscardLogger()})
	require.NoError(t, err)

	src, err := m.NewBufferedSource(context.Background(), "drain.wav", FlagDecode|FlagAsync, nil)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, m.Close())

	assert.Zero(t, m.Stats().Queue.PendingJobs)
	assert.Zero(t, m.Stats().Nodes)
	_, err = m.NewBufferedSource(context.Background(), "drain.wav", 0, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStatsJSON(t *testing.T) {
	m := newTestManager(t, Config{NonBlocking: true, FS: afero.NewMemMapFs()})
	require.NoError(t, m.PostCustom("noop", func(context.Context) error { return nil }))
	pumpAll(t, m)

	out, err := m.Stats().ToJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"custom"`)
	assert.Contains(t, out, `"workers": 0`)
}
