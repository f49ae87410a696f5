// Package metrics provides Prometheus metrics for the resource manager
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/audiostream/internal/errors"
)

// ResourceMetrics records job scheduling and decoding activity of a
// resource manager. It satisfies resource.MetricsRecorder.
type ResourceMetrics struct {
	registry *prometheus.Registry

	// Job queue metrics
	jobsPostedTotal   *prometheus.CounterVec
	jobsRejectedTotal *prometheus.CounterVec
	jobsRequeuedTotal *prometheus.CounterVec
	jobsExecutedTotal *prometheus.CounterVec
	jobErrorsTotal    *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec

	// Asset metrics
	assetNodesGauge     prometheus.Gauge
	framesDecodedTotal  *prometheus.CounterVec
	pageFramesHistogram *prometheus.HistogramVec
	activeSourcesGauge  *prometheus.GaugeVec
}

// NewResourceMetrics creates and registers new resource metrics
func NewResourceMetrics(registry *prometheus.Registry) (*ResourceMetrics, error) {
	m := &ResourceMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResourceMetrics) initMetrics() {
	m.jobsPostedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_jobs_posted_total",
			Help: "Total number of jobs accepted by the queue",
		},
		[]string{"kind"},
	)

	m.jobsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_jobs_rejected_total",
			Help: "Total number of jobs refused because the queue was full",
		},
		[]string{"kind"},
	)

	m.jobsRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_jobs_requeued_total",
			Help: "Total number of jobs put back because an earlier job on the same target had not finished",
		},
		[]string{"kind"},
	)

	m.jobsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_jobs_executed_total",
			Help: "Total number of jobs executed",
		},
		[]string{"kind", "status"}, // status: success, error
	)

	m.jobErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_job_errors_total",
			Help: "Total number of failed jobs by error category",
		},
		[]string{"kind", "category"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiostream_job_duration_seconds",
			Help:    "Time taken to execute a job",
			Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount15),
		},
		[]string{"kind"},
	)

	m.assetNodesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiostream_asset_nodes",
			Help: "Number of registered asset nodes",
		},
	)

	m.framesDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostream_frames_decoded_total",
			Help: "Total number of PCM frames decoded",
		},
		[]string{"source"}, // source: node, stream
	)

	m.pageFramesHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiostream_page_frames",
			Help:    "Frames decoded per page",
			Buckets: prometheus.ExponentialBuckets(BucketStart64Frames, BucketFactor2, BucketCount12),
		},
		[]string{"source"},
	)

	m.activeSourcesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiostream_active_sources",
			Help: "Number of open data sources",
		},
		[]string{"kind"}, // kind: buffered, stream
	)
}

// Describe implements the prometheus.Collector interface
func (m *ResourceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.jobsPostedTotal.Describe(ch)
	m.jobsRejectedTotal.Describe(ch)
	m.jobsRequeuedTotal.Describe(ch)
	m.jobsExecutedTotal.Describe(ch)
	m.jobErrorsTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	m.assetNodesGauge.Describe(ch)
	m.framesDecodedTotal.Describe(ch)
	m.pageFramesHistogram.Describe(ch)
	m.activeSourcesGauge.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *ResourceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.jobsPostedTotal.Collect(ch)
	m.jobsRejectedTotal.Collect(ch)
	m.jobsRequeuedTotal.Collect(ch)
	m.jobsExecutedTotal.Collect(ch)
	m.jobErrorsTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	m.assetNodesGauge.Collect(ch)
	m.framesDecodedTotal.Collect(ch)
	m.pageFramesHistogram.Collect(ch)
	m.activeSourcesGauge.Collect(ch)
}

// JobPosted records a job accepted by the queue
func (m *ResourceMetrics) JobPosted(kind string) {
	m.jobsPostedTotal.WithLabelValues(kind).Inc()
}

// JobRejected records a job refused by a full queue
func (m *ResourceMetrics) JobRejected(kind string) {
	m.jobsRejectedTotal.WithLabelValues(kind).Inc()
}

// JobRequeued records a job put back to wait for its predecessor
func (m *ResourceMetrics) JobRequeued(kind string) {
	m.jobsRequeuedTotal.WithLabelValues(kind).Inc()
}

// JobExecuted records a finished job, its duration, and its outcome
func (m *ResourceMetrics) JobExecuted(kind string, d time.Duration, err error) {
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err == nil {
		m.jobsExecutedTotal.WithLabelValues(kind, StatusSuccess).Inc()
		return
	}
	m.jobsExecutedTotal.WithLabelValues(kind, StatusError).Inc()
	m.jobErrorsTotal.WithLabelValues(kind, errorCategory(err)).Inc()
}

// AssetNodes sets the number of registered nodes
func (m *ResourceMetrics) AssetNodes(n int) {
	m.assetNodesGauge.Set(float64(n))
}

// PageDecoded records one decoded page
func (m *ResourceMetrics) PageDecoded(source string, frames uint64) {
	m.framesDecodedTotal.WithLabelValues(source).Add(float64(frames))
	m.pageFramesHistogram.WithLabelValues(source).Observe(float64(frames))
}

// ActiveSources adjusts the open source count of a source kind
func (m *ResourceMetrics) ActiveSources(kind string, delta int) {
	m.activeSourcesGauge.WithLabelValues(kind).Add(float64(delta))
}

func errorCategory(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
