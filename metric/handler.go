package metric

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/health"
)

// Server serves Prometheus metrics and the aggregated health status
type Server struct {
	port     int
	path     string
	server   *http.Server
	listener net.Listener
	registry *MetricsRegistry
	monitor  *health.Monitor
	mu       sync.Mutex
}

// NewServer creates a new metrics server. A nil monitor disables /health.
func NewServer(port int, path string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		monitor:  monitor,
	}
}

// Handler builds the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	if s.monitor != nil {
		mux.Handle("/health", s.monitor.Handler("twinbridge"))
	}
	return mux
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "start metrics server")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "stop HTTP server")
	}
	return nil
}

// Address returns the metrics URL
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
