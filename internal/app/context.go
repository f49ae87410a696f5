// Package app holds the state shared by the CLI commands: settings, the
// central logger, metrics, and the resource manager they configure.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/buildinfo"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability"
	"github.com/tphakala/audiostream/internal/resource"
	"github.com/tphakala/audiostream/internal/telemetry"
)

const (
	// busyPoll is how long Pump sleeps while workers make progress
	busyPoll = time.Millisecond
	// pumpWait bounds how long Pump waits for a job on a blocking queue
	pumpWait = 10 * time.Millisecond
)

// Context holds the overall application state.
type Context struct {
	Build    *buildinfo.Context
	Settings *conf.Settings
	Metrics  *observability.Metrics

	central  *logger.CentralLogger
	endpoint *observability.Endpoint
	quit     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a Context for a build.
func New(build *buildinfo.Context) *Context {
	return &Context{Build: build, quit: make(chan struct{})}
}

// Setup installs the central logger, Sentry and the metrics endpoint for
// settings. Shutdown undoes it.
func (c *Context) Setup(settings *conf.Settings) error {
	c.Settings = settings

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	} else if _, ok := settings.Logging.ModuleLevels["resource"]; !ok {
		if settings.Logging.ModuleLevels == nil {
			settings.Logging.ModuleLevels = make(map[string]string)
		}
		settings.Logging.ModuleLevels["resource"] = "warn"
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(central)
	c.central = central

	if err := telemetry.InitSentry(&settings.Telemetry, c.Build.Version()); err != nil {
		central.Module("app").Warn("telemetry disabled", logger.Error(err))
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	c.Metrics = metrics

	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(&settings.Metrics, metrics)
		if err != nil {
			return err
		}
		if err := endpoint.Start(&c.wg, c.quit); err != nil {
			return err
		}
		c.endpoint = endpoint
	}
	return nil
}

// Logger returns a logger for a command.
func (c *Context) Logger(module string) logger.Logger {
	if c.central == nil {
		return logger.Global().Module(module)
	}
	return c.central.Module(module)
}

// NewManager starts a resource manager configured from the settings.
func (c *Context) NewManager() (*resource.Manager, error) {
	cfg, err := c.Settings.ResourceConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logger = c.Logger("resource")
	if c.Metrics != nil {
		cfg.Metrics = c.Metrics.Resource
	}
	return resource.New(cfg)
}

// Shutdown stops the metrics endpoint and flushes logs and telemetry.
func (c *Context) Shutdown() error {
	var err error
	c.once.Do(func() {
		close(c.quit)
		c.wg.Wait()
		if c.Settings != nil && c.Settings.Telemetry.Enabled {
			telemetry.Flush()
		}
		if c.central != nil {
			err = c.central.Close()
		}
	})
	return err
}

// Pump lets a source that returned ErrBusy make progress. Without workers
// it runs one job on the caller; otherwise it sleeps briefly.
func Pump(ctx context.Context, m *resource.Manager) error {
	if m.JobThreadCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyPoll):
			return nil
		}
	}

	// A blocking queue may have nothing to run while a source retries a
	// refused post, so the wait is bounded
	jobCtx, cancel := context.WithTimeout(ctx, pumpWait)
	defer cancel()

	err := m.ProcessNextJob(jobCtx)
	switch {
	case err == nil, errors.Is(err, jobqueue.ErrEmpty):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// A failed job is reported again through the source's Result
		return nil
	}
}
