// Package stats implements the statistics collector (C12): per-worker
// commit/user-abort/system-abort counters and an abort-reason
// histogram, registered per-worker and aggregated via a
// prometheus.Registry the benchmark driver can scrape or dump at
// shutdown.
package stats

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobboyms/txcore/pkg/types"
)

// Outcome labels the three terminal transaction outcomes counted here
// (a bug is never counted here — it goes to pkg/crashreport instead,
// never silently tallied).
type Outcome string

const (
	Commit      Outcome = "commit"
	UserAbort   Outcome = "user_abort"
	SystemAbort Outcome = "system_abort"
)

const namespace = "txcore"

// Collector is the process-wide statistics sink. One Collector is
// shared by all workers; each worker is its own label value so a
// skewed worker (e.g. hot-partition contention) is visible in the
// aggregate without needing per-worker dashboards stitched together by
// hand.
type Collector struct {
	runID    string
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	abortReasons *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewCollector builds a Collector with a fresh registry and registers
// all of its metrics on it. Each Collector is stamped with a random
// run id, attached as a constant label on every metric, so dumps from
// several benchmark runs scraped into one Prometheus instance or one
// dashboard don't get their series silently merged together.
func NewCollector() *Collector {
	runID := uuid.NewString()
	constLabels := prometheus.Labels{"run_id": runID}
	c := &Collector{
		runID:    runID,
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transactions_total",
			Help:        "Completed transactions by worker and terminal outcome.",
			ConstLabels: constLabels,
		}, []string{"worker", "outcome"}),
		abortReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "abort_reasons_total",
			Help:        "Aborted transactions by worker and abort reason.",
			ConstLabels: constLabels,
		}, []string{"worker", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "transaction_duration_seconds",
			Help:        "Transaction end-to-end latency by worker and outcome.",
			Buckets:     prometheus.ExponentialBuckets(0.00001, 2, 20),
			ConstLabels: constLabels,
		}, []string{"worker", "outcome"}),
	}
	c.registry.MustRegister(c.outcomes, c.abortReasons, c.latency)
	return c
}

// RunID returns the random identifier generated for this Collector at
// construction, for tagging log lines or output filenames alongside
// the metrics it owns.
func (c *Collector) RunID() string { return c.runID }

// Registry exposes the underlying prometheus.Registry for the
// benchmark driver to scrape (via an HTTP handler) or dump at
// shutdown.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordCommit counts a successful commit for worker, with its
// end-to-end latency in seconds.
func (c *Collector) RecordCommit(worker types.WorkerID, seconds float64) {
	c.record(worker, Commit, seconds)
}

// RecordUserAbort counts a user abort outcome — a well-formed
// business-logic decision, e.g. NotPresentError on a lookup the
// workload treats as "row doesn't exist" — under reason.
func (c *Collector) RecordUserAbort(worker types.WorkerID, reason string, seconds float64) {
	c.record(worker, UserAbort, seconds)
	c.abortReasons.WithLabelValues(workerLabel(worker), reason).Inc()
}

// RecordSystemAbort counts a SYSTEM_ABORT outcome (a concurrency
// -control conflict the retry driver will retry) under reason, e.g.
// "silo_validation", "lock_timeout", "phantom_detected".
func (c *Collector) RecordSystemAbort(worker types.WorkerID, reason string, seconds float64) {
	c.record(worker, SystemAbort, seconds)
	c.abortReasons.WithLabelValues(workerLabel(worker), reason).Inc()
}

func (c *Collector) record(worker types.WorkerID, outcome Outcome, seconds float64) {
	label := workerLabel(worker)
	c.outcomes.WithLabelValues(label, string(outcome)).Inc()
	c.latency.WithLabelValues(label, string(outcome)).Observe(seconds)
}

func workerLabel(worker types.WorkerID) string {
	return types.Key(worker).String()
}
