package jobqueue

import (
	"context"
	"math"
	"time"

	"github.com/tphakala/audiostream/internal/errors"
)

// RetryConfig holds the configuration for reposting a job the queue refused
type RetryConfig struct {
	MaxRetries   int           // Maximum number of retries, 0 retries forever
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// DefaultRetryConfig is used for teardown jobs, which must eventually be posted
var DefaultRetryConfig = RetryConfig{
	InitialDelay: 100 * time.Microsecond,
	MaxDelay:     10 * time.Millisecond,
	Multiplier:   2,
}

// BackoffDelay calculates the delay before retry attemptNum (starting at 0)
func BackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	// Jitter of +/-10%
	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

// PostWithRetry posts job, retrying with backoff while the queue is full.
// Between attempts it calls wait, which defaults to sleeping; callers that
// are themselves the only consumer pass a wait that drains the queue.
func PostWithRetry(ctx context.Context, q *Queue, job Job, cfg RetryConfig, wait func(context.Context, time.Duration) error) error {
	if wait == nil {
		wait = sleepContext
	}

	for attempt := 0; ; attempt++ {
		err := q.Post(job)
		if err == nil || !errors.Is(err, ErrQueueFull) {
			return err
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries {
			return err
		}
		if err := wait(ctx, BackoffDelay(cfg, attempt)); err != nil {
			return err
		}
	}
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
