// Package metrics exposes the Prometheus instrumentation surface for the
// engine's hot paths: lock acquisition, commit-pipeline phases, and
// subscription-table size, using global prometheus.MustRegister vars plus a
// Timer helper rather than a hand-rolled counter struct threaded through
// every constructor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockWaitDuration measures how long a lock_all call spent acquiring
	// a single module's control block, by mode and outcome.
	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shimrepo_lock_wait_duration_seconds",
			Help:    "Time spent acquiring a single module's lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "outcome"},
	)

	// LockTimeoutsTotal counts lock_all acquisitions that failed with
	// timed_out, by module.
	LockTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shimrepo_lock_timeouts_total",
			Help: "Total number of module lock acquisitions that timed out",
		},
		[]string{"module"},
	)

	// CommitPhaseDuration measures how long the commit pipeline spent in
	// each named state transition (locked, diffed, validated, ...).
	CommitPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shimrepo_commit_phase_duration_seconds",
			Help:    "Time spent in each commit pipeline phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// CommitsTotal counts completed commits by their terminal outcome
	// (done, aborted).
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shimrepo_commits_total",
			Help: "Total number of commits by terminal outcome",
		},
		[]string{"outcome"},
	)

	// SubscriptionsTotal tracks the live subscription count per module, so
	// an operator can see the subscription table's size without attaching
	// a debugger to the segment.
	SubscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shimrepo_subscriptions_total",
			Help: "Number of live subscriptions by module",
		},
		[]string{"module"},
	)

	// SegmentSizeBytes reports the shared segment's current size.
	SegmentSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shimrepo_segment_size_bytes",
			Help: "Current size in bytes of the shared memory segment",
		},
	)

	// SegmentRemapsTotal counts how many times the segment has grown.
	SegmentRemapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shimrepo_segment_remaps_total",
			Help: "Total number of times the shared segment was remapped",
		},
	)
)

func init() {
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(LockTimeoutsTotal)
	prometheus.MustRegister(CommitPhaseDuration)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(SegmentSizeBytes)
	prometheus.MustRegister(SegmentRemapsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
