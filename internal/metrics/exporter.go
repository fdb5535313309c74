package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultReadHeaderTimeout = 10 * time.Second

// Exporter serves the registry on /metrics.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewExporter creates a registry holding every collector of this package plus
// the Go runtime collectors.
func NewExporter(addr string, logger *zap.Logger) (*Exporter, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{
		addr:     addr,
		registry: reg,
		logger:   logger,
	}, nil
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start binds the listen address and serves in the background.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}(e.server)

	e.logger.Info("Metrics server listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.addr
}

// Shutdown stops the server.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server == nil {
		return nil
	}
	err := e.server.Shutdown(ctx)
	e.server = nil
	e.listener = nil
	return err
}
