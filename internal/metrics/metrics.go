// Package metrics bundles the optional Prometheus counters ccengram exposes
// through the doctor and stats commands. The registry is created lazily so
// a process that never asks for metrics never pays for registration.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles the counters ccengram instruments internally:
// rate-limiter wait time (the embedding client, §4.2) and pipeline batch
// throughput (the indexing pipeline, §4.5).
type Registry struct {
	reg *prometheus.Registry

	RateLimitWaitSeconds prometheus.Histogram
	RateLimitAcquires    prometheus.Counter
	RateLimitRefunds     prometheus.Counter
	PipelineBatchesTotal *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide metrics registry, creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
	})
	return defaultReg
}

// New builds an independent registry, mainly useful in tests that don't want
// to share state with Default().
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RateLimitWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccengram_embed_rate_limit_wait_seconds",
			Help:    "Time spent waiting for an embedding rate limiter slot before a request was sent.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitAcquires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_embed_rate_limit_acquires_total",
			Help: "Embedding rate limiter slots acquired.",
		}),
		RateLimitRefunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccengram_embed_rate_limit_refunds_total",
			Help: "Embedding rate limiter slots refunded after a non-quota-consuming failure (timeout, network error, 5xx).",
		}),
		PipelineBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccengram_pipeline_batches_total",
			Help: "Batches processed by the indexing pipeline, labeled by stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
	reg.MustRegister(r.RateLimitWaitSeconds, r.RateLimitAcquires, r.RateLimitRefunds, r.PipelineBatchesTotal)
	return r
}

// Gather returns the current metric families, for rendering by the
// doctor/stats command.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}
