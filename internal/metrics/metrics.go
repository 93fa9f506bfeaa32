package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway's collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Requests      prometheus.Counter
	Decisions     *prometheus.CounterVec
	Evictions     prometheus.Counter
	Collaborators *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests received",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_decisions_total",
			Help: "Admission decisions by operation and outcome",
		}, []string{"operation", "outcome"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bucket_evictions_total",
			Help: "Idle quota buckets evicted",
		}),
		Collaborators: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_collaborator_duration_seconds",
			Help:    "Latency of delegated collaborator calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"collaborator", "result"}),
	}
	r.reg.MustRegister(r.Requests, r.Decisions, r.Evictions, r.Collaborators)
	return r
}

// TrackBuckets exports the live bucket count reported by size.
func (r *Registry) TrackBuckets(size func() int) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_buckets",
		Help: "Live quota buckets held in memory",
	}, func() float64 { return float64(size()) }))
}

// ObserveDecision counts an admission outcome.
func (r *Registry) ObserveDecision(op, outcome string) {
	r.Decisions.WithLabelValues(op, outcome).Inc()
}

// ObserveCollaborator records a delegated call's latency.
func (r *Registry) ObserveCollaborator(name string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Collaborators.WithLabelValues(name, result).Observe(took.Seconds())
}

// ObserveEvictions counts idle buckets dropped by a sweep.
func (r *Registry) ObserveEvictions(n int) {
	r.Evictions.Add(float64(n))
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
