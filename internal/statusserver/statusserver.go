// Package statusserver exposes an ambient HTTP surface over the Scan
// Coordinator's atomic stats counters: /healthz, /livez, /readyz for
// process/orchestrator probes, and /metrics in Prometheus text format.
// It never touches scanning logic; it is purely an external consumer of
// a *scan.Stats snapshot.
package statusserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/pkg/scan"
)

// ReadyFunc reports whether the process is ready to serve (e.g. at
// least one target scan has started). A nil ReadyFunc means always
// ready.
type ReadyFunc func() bool

// Server wraps an *http.Server serving the status/metrics routes.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds a Server bound to cfg.Host:cfg.Port. stats feeds the
// Prometheus gauges; ready (optional) backs /readyz.
func New(cfg config.ServerConfig, logger *zap.Logger, stats *scan.Stats, ready ReadyFunc) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	registerStatsCollectors(reg, stats)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		logger: logger,
	}
}

// Start runs the server in a background goroutine and returns
// immediately. Bind errors other than a graceful Shutdown are logged,
// not returned.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting status server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server, bounded by cfg.ShutdownTimeout
// (applied by the caller via ctx).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func registerStatsCollectors(reg *prometheus.Registry, stats *scan.Stats) {
	if stats == nil {
		return
	}
	newGauge := func(name, help string, get func(scan.StatsSnapshot) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fathom",
			Subsystem: "scan",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats.Snapshot())) })
	}

	reg.MustRegister(
		newGauge("requests_total", "Total candidate requests dispatched.", func(s scan.StatsSnapshot) int64 { return s.Requested }),
		newGauge("results_kept_total", "Results kept after classification.", func(s scan.StatsSnapshot) int64 { return s.Kept }),
		newGauge("results_filtered_total", "Results dropped by the filter chain.", func(s scan.StatsSnapshot) int64 { return s.Filtered }),
		newGauge("errors_total", "Transport/classification errors recorded.", func(s scan.StatsSnapshot) int64 { return s.Errors }),
	)
}
