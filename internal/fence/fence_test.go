package fence

import (
	"context"
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

func TestFenceWaitReturnsAtZero(t *testing.T) {
	f := New()
	require.NoError(t, f.Wait(context.Background()), "zero fence must not block")

	f.Acquire()
	f.Acquire()
	assert.Equal(t, uint32(2), f.Count())

	done := make(chan error, 1)
	go func() { done <- f.Wait(context.Background()) }()

	require.NoError(t, f.Release())
	select {
	case <-done:
		t.Fatal("wait returned with outstanding acquire")
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, f.Release())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return")
	}
}

func TestFenceReleaseAtZero(t *testing.T) {
	f := New()
	assert.ErrorIs(t, f.Release(), ErrInvalidOperation)
}

func TestFenceReuse(t *testing.T) {
	f := New()
	for range 3 {
		f.Acquire()
		f.Signal()
		require.NoError(t, f.Wait(context.Background()))
	}
}

func TestFenceWaitContext(t *testing.T) {
	f := New()
	f.Acquire()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}

func TestFenceConcurrent(t *testing.T) {
	f := New()
	var wg sync.WaitGroup
	for range 64 {
		f.Acquire()
		wg.Go(func() {
			time.Sleep(time.Millisecond)
			f.Signal()
		})
	}
	require.NoError(t, f.Wait(context.Background()))
	wg.Wait()
	assert.Equal(t, uint32(0), f.Count())
}

func TestNotification(t *testing.T) {
	n := NewNotification()
	assert.False(t, n.IsSignalled())

	n.Signal()
	n.Signal()
	assert.True(t, n.IsSignalled())
	require.NoError(t, n.Wait(context.Background()))

	select {
	case <-n.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestPipelineNotifications(t *testing.T) {
	var calls atomic.Int32
	f := New()
	p := &PipelineNotifications{
		Init: PipelineStage{Notifier: NotifierFunc(func() { calls.Add(1) }), Fence: f},
		Done: PipelineStage{Fence: f},
	}

	p.Begin()
	assert.Equal(t, uint32(2), f.Count())

	p.InitStage().Finish()
	p.DoneStage().Finish()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint32(0), f.Count())

	var nilPipeline *PipelineNotifications
	assert.NotPanics(t, func() {
		nilPipeline.Begin()
		nilPipeline.InitStage().Finish()
	})
}
