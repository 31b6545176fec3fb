package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	"github.com/autopeer-io/skyrelay/pkg/log"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

// ReadyFunc reports whether the process can do useful work.
type ReadyFunc func() bool

// HTTPServer serves liveness, readiness and Prometheus metrics.
type HTTPServer struct {
	server  *http.Server
	options *options.HttpOptions
}

// NewHTTPServer builds the server. ready backs /readyz; nil means always ready.
func NewHTTPServer(opts *options.HttpOptions, ready ReadyFunc) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: NewRouter(ready),
		},
		options: opts,
	}
}

// NewRouter returns the handler tree served by HTTPServer.
func NewRouter(ready ReadyFunc) http.Handler {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness Probe, backed by the broker connection.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("broker not connected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
