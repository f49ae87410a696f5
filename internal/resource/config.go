package resource

import (
	"fmt"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/afero"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

const (
	// DefaultJobQueueCapacity bounds queued jobs when Config leaves it zero
	DefaultJobQueueCapacity = 1024
	// DefaultPageSize is the duration of one decoded page
	DefaultPageSize = time.Second
	// AutoJobThreads picks one worker per physical core
	AutoJobThreads = -1
	// MaxJobThreads caps automatic and explicit worker counts
	MaxJobThreads = 64
)

// Config configures a Manager. The zero value is usable after
// applying defaults: native output format, caller-pumped jobs.
type Config struct {
	// DecodedFormat, DecodedChannels and DecodedSampleRate request an output
	// format from every decoder. Zero keeps the native value.
	DecodedFormat     decoder.Format
	DecodedChannels   uint32
	DecodedSampleRate uint32

	// JobThreadCount is the number of worker goroutines. Zero means the
	// caller pumps jobs with ProcessNextJob; AutoJobThreads uses one worker
	// per physical core.
	JobThreadCount   int
	JobQueueCapacity uint32
	// NonBlocking makes ProcessNextJob return ErrEmpty instead of waiting
	NonBlocking bool

	// PageSize is the length of one decoding or streaming page
	PageSize time.Duration

	// FS is the file system assets are opened from, the OS by default
	FS afero.Fs
	// Decoders are tried before the built-in WAV and FLAC backends
	Decoders []decoder.Backend

	// Retry controls reposting of teardown jobs refused by a full queue
	Retry jobqueue.RetryConfig

	Logger  logger.Logger
	Metrics MetricsRecorder
}

// DefaultConfig returns a configuration with one worker per physical core.
func DefaultConfig() Config {
	return Config{
		JobThreadCount:   AutoJobThreads,
		JobQueueCapacity: DefaultJobQueueCapacity,
		PageSize:         DefaultPageSize,
		Retry:            jobqueue.DefaultRetryConfig,
	}
}

func (c *Config) applyDefaults() {
	if c.JobQueueCapacity == 0 {
		c.JobQueueCapacity = DefaultJobQueueCapacity
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Retry.Multiplier == 0 {
		c.Retry = jobqueue.DefaultRetryConfig
	}
	if c.Logger == nil {
		c.Logger = logger.Global().Module("resource")
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
}

// Validate checks the configuration for values the manager cannot run with.
func (c *Config) Validate() error {
	if c.JobThreadCount < AutoJobThreads || c.JobThreadCount > MaxJobThreads {
		return errors.New(fmt.Errorf("job thread count %d out of range [%d, %d]", c.JobThreadCount, AutoJobThreads, MaxJobThreads)).
			Component(ComponentResource).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.PageSize > time.Minute {
		return errors.New(fmt.Errorf("page size %s exceeds one minute", c.PageSize)).
			Component(ComponentResource).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func (c *Config) decoderConfig() decoder.Config {
	return decoder.Config{
		Format:     c.DecodedFormat,
		Channels:   c.DecodedChannels,
		SampleRate: c.DecodedSampleRate,
	}
}

// pageFrames converts the page duration to frames at sampleRate.
func (c *Config) pageFrames(sampleRate uint32) uint64 {
	frames := uint64(c.PageSize.Seconds() * float64(sampleRate))
	return max(frames, 1)
}

// resolveJobThreads turns AutoJobThreads into a concrete worker count.
func resolveJobThreads(n int) int {
	if n != AutoJobThreads {
		return n
	}
	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return min(max(cores, 1), MaxJobThreads)
}
