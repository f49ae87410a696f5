package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/logger"
	metricspkg "github.com/tphakala/audiostream/internal/observability/metrics"
)

// Endpoint serves the Prometheus scrape endpoint.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	addr          chan net.Addr
}

// NewEndpoint creates an Endpoint for the metrics settings. It returns an
// error if the endpoint is disabled.
func NewEndpoint(settings *conf.MetricsSettings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, fmt.Errorf("metrics endpoint not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
		addr:          make(chan net.Addr, 1),
	}, nil
}

// Start binds the listen address and serves until quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics endpoint listen on %s: %w", e.listenAddress, err)
	}
	e.addr <- ln.Addr()

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() { e.gracefulShutdown(quitChan) })
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (e *Endpoint) Addr() net.Addr {
	a := <-e.addr
	e.addr <- a
	return a
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
