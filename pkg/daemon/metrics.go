package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

const metricsNamespace = "demote"

// Metrics holds the daemon's prometheus collectors in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	checks        *prometheus.CounterVec
	ticks         prometheus.Counter
	historyErrors prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checks_total",
			Help:      "Checks performed, by target and outcome.",
		}, []string{"target", "outcome"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Monitor ticks started.",
		}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_errors_total",
			Help:      "Check results that could not be journaled.",
		}),
	}
	m.registry.MustRegister(
		m.checks,
		m.ticks,
		m.historyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackInterval exposes the current poll interval as a gauge read at
// scrape time.
func (m *Metrics) TrackInterval(interval func() int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "poll_interval_seconds",
		Help:      "Current poll interval.",
	}, func() float64 { return float64(interval()) })
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("registering interval gauge: %w", err)
	}
	return nil
}

// Observe counts a check result. It has the monitor.ResultHook signature.
func (m *Metrics) Observe(_ types.StatusEvent, res types.CheckResult) {
	m.checks.WithLabelValues(res.Name, res.Outcome.String()).Inc()
}

// Tick counts a monitor tick. It has the monitor.TickHook signature.
func (m *Metrics) Tick(uint64) {
	m.ticks.Inc()
}

// HistoryError counts a failed journal write.
func (m *Metrics) HistoryError() {
	m.historyErrors.Inc()
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsServer serves /metrics over HTTP.
type MetricsServer struct {
	srv      *http.Server
	listener net.Listener
}

// NewMetricsServer listens on addr. Use "127.0.0.1:0" in tests.
func NewMetricsServer(addr string, m *Metrics) (*MetricsServer, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the listening address.
func (s *MetricsServer) Addr() string { return s.listener.Addr().String() }

// Serve blocks until Close.
func (s *MetricsServer) Serve() error {
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the server down, waiting briefly for in-flight scrapes.
func (s *MetricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
