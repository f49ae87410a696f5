package resource

import "time"

// MetricsRecorder receives manager events. Implementations must be safe for
// concurrent use; the Prometheus one lives in internal/observability/metrics.
type MetricsRecorder interface {
	JobPosted(kind string)
	JobRejected(kind string)
	JobRequeued(kind string)
	JobExecuted(kind string, d time.Duration, err error)
	AssetNodes(n int)
	PageDecoded(source string, frames uint64)
	ActiveSources(kind string, delta int)
}

type nopMetrics struct{}

func (nopMetrics) JobPosted(string)                         {}
func (nopMetrics) JobRejected(string)                       {}
func (nopMetrics) JobRequeued(string)                       {}
func (nopMetrics) JobExecuted(string, time.Duration, error) {}
func (nopMetrics) AssetNodes(int)                           {}
func (nopMetrics) PageDecoded(string, uint64)               {}
func (nopMetrics) ActiveSources(string, int)                {}
