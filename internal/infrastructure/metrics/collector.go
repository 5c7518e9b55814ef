// Package metrics exposes ledger activity as Prometheus counters.
//
// A Collector registers on the registerer it is given, never on the global
// default, so tests and multiple executables can own separate registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classpoints"

// Redemption outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeOutOfStock   = "out_of_stock"
	OutcomeError        = "error"
)

// Collector holds every counter the application layer records.
type Collector struct {
	adjustments   *prometheus.CounterVec
	pointsApplied *prometheus.CounterVec
	noopDebits    prometheus.Counter
	importRows    *prometheus.CounterVec
	draws         prometheus.Counter
	redemptions   *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	checkpoints     *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// New registers the collector's metrics on reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		adjustments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjustments_total",
			Help:      "Point adjustments requested, by category and direction.",
		}, []string{"category", "direction"}),
		pointsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_applied_total",
			Help:      "Effective points moved after clamping, by category and direction.",
		}, []string{"category", "direction"}),
		noopDebits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noop_debits_total",
			Help:      "Debits that found an empty balance and changed nothing.",
		}),
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by outcome.",
		}, []string{"outcome"}),
		draws: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Random student draws performed.",
		}),
		redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Reward redemption attempts by outcome.",
		}, []string{"outcome"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus.",
		}, []string{"type"}),
		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handler executions that returned an error or panicked.",
		}, []string{"type"}),
		handlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"type"}),
		checkpoints: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Time spent saving a class snapshot.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}
}

// RecordAdjustment counts one requested adjustment and the points it
// actually moved. A zero effective debit also counts as a no-op.
func (c *Collector) RecordAdjustment(category, direction string, effective int) {
	if c == nil {
		return
	}
	c.adjustments.WithLabelValues(category, direction).Inc()
	if effective > 0 {
		c.pointsApplied.WithLabelValues(category, direction).Add(float64(effective))
	} else if direction == "debit" {
		c.noopDebits.Inc()
	}
}

// RecordImportRows adds n rows with the given outcome.
func (c *Collector) RecordImportRows(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.importRows.WithLabelValues(outcome).Add(float64(n))
}

// RecordDraw counts one draw.
func (c *Collector) RecordDraw() {
	if c == nil {
		return
	}
	c.draws.Inc()
}

// RecordRedemption counts one redemption attempt.
func (c *Collector) RecordRedemption(outcome string) {
	if c == nil {
		return
	}
	c.redemptions.WithLabelValues(outcome).Inc()
}

// RecordPublish counts a published event.
func (c *Collector) RecordPublish(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHandlerExecution observes one event handler run.
func (c *Collector) RecordHandlerExecution(eventType string, d time.Duration, success bool) {
	if c == nil {
		return
	}
	c.handlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
	if !success {
		c.handlerFailures.WithLabelValues(eventType).Inc()
	}
}

// RecordCheckpoint observes one snapshot save.
func (c *Collector) RecordCheckpoint(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.checkpoints.WithLabelValues(result).Observe(d.Seconds())
}

// RecordJob observes one scheduled job run.
func (c *Collector) RecordJob(name string, d time.Duration, success bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	c.jobRuns.WithLabelValues(name, result).Inc()
	c.jobDuration.WithLabelValues(name).Observe(d.Seconds())
}
