// Package metrics exposes Prometheus collectors for code allocation and
// imports. Recorder satisfies core.Recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/basicitems/internal/core"
)

const namespace = "basicitems"

type Recorder struct {
	codesAllocated     *prometheus.CounterVec
	allocationRetries  prometheus.Counter
	allocationFailures *prometheus.CounterVec
	importRows         *prometheus.CounterVec
	importCommits      *prometheus.CounterVec
	commitSeconds      prometheus.Histogram
}

var _ core.Recorder = (*Recorder)(nil)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		codesAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_allocated_total",
			Help:      "Item codes allocated, by kind (parent or child).",
		}, []string{"kind"}),
		allocationRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_retries_total",
			Help:      "Allocation transactions retried after a duplicate code.",
		}),
		allocationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_failures_total",
			Help:      "Allocations that gave up, by reason.",
		}, []string{"reason"}),
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Import rows by outcome (accepted, rejected, inserted, skipped).",
		}, []string{"outcome"}),
		importCommits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_commits_total",
			Help:      "Finished imports by status.",
		}, []string{"status"}),
		commitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_commit_seconds",
			Help:      "Time spent in the import commit transaction.",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5,
				1, 2.5, 5, 10, 30,
			},
		}),
	}
}

func (r *Recorder) CodeAllocated(kind string) { r.codesAllocated.WithLabelValues(kind).Inc() }

func (r *Recorder) AllocationRetried() { r.allocationRetries.Inc() }

func (r *Recorder) AllocationFailed(reason string) {
	r.allocationFailures.WithLabelValues(reason).Inc()
}

func (r *Recorder) ImportRows(outcome string, n int) {
	if n <= 0 {
		return
	}
	r.importRows.WithLabelValues(outcome).Add(float64(n))
}

// ImportCommitted counts the import and, when a commit ran, observes its
// duration.
func (r *Recorder) ImportCommitted(status string, elapsed time.Duration) {
	r.importCommits.WithLabelValues(status).Inc()
	if elapsed > 0 {
		r.commitSeconds.Observe(elapsed.Seconds())
	}
}

// RegisterLimiter publishes the import limiter's occupancy as gauges.
func RegisterLimiter(reg prometheus.Registerer, l *core.ImportLimiter) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "imports_active",
		Help:      "Imports currently holding a slot.",
	}, func() float64 { return float64(l.Status().Active) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "imports_max_concurrent",
		Help:      "Configured import concurrency.",
	}, func() float64 { return float64(l.Status().MaxConcurrent) })
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
