package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portcall"

// Metrics holds the collectors of one process. Each instance owns its registry so tests can
// build engines side by side.
type Metrics struct {
	Registry *prometheus.Registry

	Commands      *prometheus.CounterVec
	Revisions     *prometheus.CounterVec
	Conflicts     *prometheus.CounterVec
	MirrorApplied prometheus.Counter
	MirrorLag     prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Engine commands by name and outcome.",
		}, []string{"command", "outcome"}),
		Revisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_revisions_total",
			Help:      "Plan revisions by outcome.",
		}, []string{"outcome"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_conflicts_total",
			Help:      "Conflict reports raised during plan revisions.",
		}, []string{"code", "severity"}),
		MirrorApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_applied_total",
			Help:      "Plans updated from execution facts.",
		}),
		MirrorLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_lag_events",
			Help:      "Events not yet processed by the mirror worker.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Command records the outcome of one engine command. Nil receivers are ignored.
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Commands.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Revision(outcome string) {
	if m == nil {
		return
	}
	m.Revisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Conflict(code, severity string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(code, severity).Inc()
}

func (m *Metrics) Mirrored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MirrorApplied.Add(float64(n))
}

func (m *Metrics) SetMirrorLag(n int64) {
	if m == nil {
		return
	}
	m.MirrorLag.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
