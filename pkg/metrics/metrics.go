// Package metrics exposes scan telemetry for Prometheus scraping.
// It serves a /metrics endpoint from its own registry so importers of
// this module never see our collectors on the default one.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the metrics server.
type Options struct {
	// Port for the metrics server (default: 9090).
	Port int

	// Path for the metrics endpoint (default: "/metrics").
	Path string
}

// Server serves scan metrics until Close.
type Server struct {
	server   *http.Server
	registry *prometheus.Registry

	tasksTotal     *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	verdictsTotal  *prometheus.CounterVec
	llmCostDollars prometheus.Counter
	phaseSeconds   *prometheus.HistogramVec
	budgetRemain   prometheus.Gauge

	mu     sync.Mutex
	closed bool
}

// New creates the collectors and starts the metrics server.
func New(opts Options) (*Server, error) {
	if opts.Port == 0 {
		opts.Port = 9090
	}
	if opts.Path == "" {
		opts.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()
	s := &Server{registry: registry}

	s.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnpilot_tasks_total",
			Help: "Agent tasks finished, by phase and status",
		},
		[]string{"phase", "status"},
	)
	s.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnpilot_findings_total",
			Help: "Findings accepted into the ledger, by category",
		},
		[]string{"category"},
	)
	s.verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnpilot_verdicts_total",
			Help: "Verdicts assigned, by verdict",
		},
		[]string{"verdict"},
	)
	s.llmCostDollars = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vulnpilot_llm_cost_dollars_total",
			Help: "Cumulative model spend in USD",
		},
	)
	s.phaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnpilot_phase_duration_seconds",
			Help:    "Wall time per pipeline phase",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"phase"},
	)
	s.budgetRemain = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulnpilot_budget_remaining_dollars",
			Help: "Budget left before the ceiling, negative when unlimited",
		},
	)

	for _, c := range []prometheus.Collector{
		s.tasksTotal, s.findingsTotal, s.verdictsTotal,
		s.llmCostDollars, s.phaseSeconds, s.budgetRemain,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(opts.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go s.server.ListenAndServe()
	return s, nil
}

// Registry exposes the server's private collector registry, mainly so
// embedders can re-serve or inspect the scan metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// TaskFinished records one finished agent task.
func (s *Server) TaskFinished(phase, status string) {
	s.tasksTotal.WithLabelValues(phase, status).Inc()
}

// FindingAccepted records one finding entering the ledger.
func (s *Server) FindingAccepted(category string) {
	s.findingsTotal.WithLabelValues(category).Inc()
}

// VerdictAssigned records one verdict.
func (s *Server) VerdictAssigned(verdict string) {
	s.verdictsTotal.WithLabelValues(verdict).Inc()
}

// Charge records accepted model spend and the remaining budget.
func (s *Server) Charge(amount, remaining float64) {
	s.llmCostDollars.Add(amount)
	s.budgetRemain.Set(remaining)
}

// PhaseDone records a phase's wall time.
func (s *Server) PhaseDone(phase string, d time.Duration) {
	s.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// Close shuts the metrics server down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}
