package app

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/buildinfo"
	"github.com/tphakala/audiostream/internal/conf"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings, err := conf.LoadFS(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	settings.Logging.Console.Enabled = false
	settings.Logging.FileOutput.Enabled = false
	settings.Resource.Threads = 0
	settings.Resource.NonBlocking = true
	return settings
}

func TestSetupAndShutdown(t *testing.T) {
	settings := testSettings(t)
	settings.Metrics.Enabled = true
	settings.Metrics.Listen = "127.0.0.1:0"

	ctx := New(buildinfo.NewContext("1.2.3", "2026-01-01"))
	require.NoError(t, ctx.Setup(settings))
	require.NotNil(t, ctx.Metrics)
	require.NotNil(t, ctx.endpoint)
	assert.NotNil(t, ctx.endpoint.Addr())
	assert.Equal(t, "warn", settings.Logging.ModuleLevels["resource"])

	require.NoError(t, ctx.Shutdown())
	require.NoError(t, ctx.Shutdown(), "second shutdown is a no-op")
}

func TestSetupDebugRaisesLevels(t *testing.T) {
	settings := testSettings(t)
	settings.Debug = true

	ctx := New(buildinfo.NewContext("", ""))
	require.NoError(t, ctx.Setup(settings))
	t.Cleanup(func() { require.NoError(t, ctx.Shutdown()) })

	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
	assert.Equal(t, "debug", settings.Logging.Console.Level)
	assert.Nil(t, ctx.endpoint)
}

func TestPumpRunsJobsOnCaller(t *testing.T) {
	ctx := New(buildinfo.NewContext("", ""))
	require.NoError(t, ctx.Setup(testSettings(t)))
	t.Cleanup(func() { require.NoError(t, ctx.Shutdown()) })

	m, err := ctx.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	require.Equal(t, 0, m.JobThreadCount())

	var runs atomic.Int32
	require.NoError(t, m.PostCustom("count", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, m.PostCustom("fail", func(context.Context) error {
		return assert.AnError
	}))

	bg := context.Background()
	require.NoError(t, Pump(bg, m))
	assert.Equal(t, int32(1), runs.Load())
	require.NoError(t, Pump(bg, m), "job failures are not pump failures")
	require.NoError(t, Pump(bg, m), "an empty queue is not an error")
}

func TestPumpWithWorkersHonoursContext(t *testing.T) {
	settings := testSettings(t)
	settings.Resource.Threads = 1

	ctx := New(buildinfo.NewContext("", ""))
	require.NoError(t, ctx.Setup(settings))
	t.Cleanup(func() { require.NoError(t, ctx.Shutdown()) })

	m, err := ctx.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	require.NoError(t, Pump(context.Background(), m))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pump(cancelled, m), context.Canceled)
}
