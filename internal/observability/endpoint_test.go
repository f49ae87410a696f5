package observability

import (
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/audiostream/internal/conf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Resource == nil || m.Registry() == nil {
				t.Error("metrics not initialized")
			}
		})
	}
	wg.Wait()
}

func TestEndpointDisabled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint(&conf.MetricsSettings{}, m)
	require.Error(t, err)
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Resource.JobPosted("load_stream")

	e, err := NewEndpoint(&conf.MetricsSettings{Enabled: true, Listen: "127.0.0.1:0"}, m)
	require.NoError(t, err)

	var wg sync.WaitGroup
	quit := make(chan struct{})
	require.NoError(t, e.Start(&wg, quit))
	defer func() {
		close(quit)
		wg.Wait()
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + e.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `audiostream_jobs_posted_total{kind="load_stream"} 1`)
	client.CloseIdleConnections()
}
