// Package observability exposes the Prometheus metrics of audiostream.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Resource *metrics.ResourceMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry, with
// Go runtime and process collectors alongside the resource metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	resourceMetrics, err := metrics.NewResourceMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Resource: resourceMetrics,
	}, nil
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
