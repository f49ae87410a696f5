package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
)

func TestRecordJobExecuted(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewResourceMetrics(registry)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		kind     string
		err      error
		status   string
		category string
	}{
		{"success", "load_stream", nil, StatusSuccess, ""},
		{"categorized failure", "page_stream", errors.New(errors.NewStd("bad page")).Category(errors.CategoryDecode).Build(), StatusError, string(errors.CategoryDecode)},
		{"plain failure", "custom", errors.NewStd("boom"), StatusError, string(errors.CategoryGeneric)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m.JobExecuted(tc.kind, 2*time.Millisecond, tc.err)

			count := testutil.ToFloat64(m.jobsExecutedTotal.WithLabelValues(tc.kind, tc.status))
			assert.Equal(t, float64(1), count)
			if tc.category != "" {
				assert.Equal(t, float64(1), testutil.ToFloat64(m.jobErrorsTotal.WithLabelValues(tc.kind, tc.category)))
			}
		})
	}
}

func TestRecordQueueAndSources(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewResourceMetrics(registry)
	require.NoError(t, err)

	m.JobPosted("load_buffer")
	m.JobPosted("load_buffer")
	m.JobRejected("load_buffer")
	m.JobRequeued("free_buffer")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.jobsPostedTotal.WithLabelValues("load_buffer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsRejectedTotal.WithLabelValues("load_buffer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsRequeuedTotal.WithLabelValues("free_buffer")))

	m.AssetNodes(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.assetNodesGauge))

	m.ActiveSources("stream", 1)
	m.ActiveSources("stream", 1)
	m.ActiveSources("stream", -1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSourcesGauge.WithLabelValues("stream")))

	m.PageDecoded("node", 4410)
	m.PageDecoded("node", 90)
	assert.Equal(t, float64(4500), testutil.ToFloat64(m.framesDecodedTotal.WithLabelValues("node")))
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewResourceMetrics(registry)
	require.NoError(t, err)

	_, err = NewResourceMetrics(registry)
	assert.Error(t, err)
}

func TestHistogramsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewResourceMetrics(registry)
	require.NoError(t, err)

	m.JobExecuted("page_asset_node", time.Millisecond, nil)
	m.JobExecuted("page_asset_node", 3*time.Millisecond, nil)
	m.PageDecoded("stream", 4410)
	m.PageDecoded("stream", 90)

	families, err := registry.Gather()
	require.NoError(t, err)

	duration := findFamily(families, "audiostream_job_duration_seconds")
	require.NotNil(t, duration)
	require.Len(t, duration.GetMetric(), 1)
	assert.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.004, duration.GetMetric()[0].GetHistogram().GetSampleSum(), 1e-9)

	pages := findFamily(families, "audiostream_page_frames")
	require.NotNil(t, pages)
	require.Len(t, pages.GetMetric(), 1)
	assert.Equal(t, dto.MetricType_HISTOGRAM, pages.GetType())
	assert.InDelta(t, 4500, pages.GetMetric()[0].GetHistogram().GetSampleSum(), 1e-9)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}
