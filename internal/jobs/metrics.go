// Package jobmetrics instruments the ledger's background tasks.
package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every job handler.
type Metrics struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lastOK     *prometheus.GaugeVec
	unbalanced *prometheus.GaugeVec
	forwarded  *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers against reg, or once against the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	defaultOnce.Do(func() { defaultMetrics = register(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job executions by job and outcome (success, failure).",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Job execution time.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		lastOK: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the latest successful run per job.",
		}, []string{"job"}),
		unbalanced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_ledger_unbalanced_entries",
			Help: "Posted journal entries failing the balance check in the latest integrity run.",
		}, []string{"company"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_audit_forwarded_total",
			Help: "Audit records appended to the external audit stream.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastOK, m.unbalanced, m.forwarded)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing job. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		t.m.lastOK.WithLabelValues(t.job).SetToCurrentTime()
	}
	t.m.runs.WithLabelValues(t.job, outcome).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetUnbalanced publishes the latest integrity result; companyID 0 covers every company.
func (m *Metrics) SetUnbalanced(companyID int64, count int) {
	if m != nil {
		m.unbalanced.WithLabelValues(strconv.FormatInt(companyID, 10)).Set(float64(count))
	}
}

// AddForwarded counts one audit record handed to the external collaborator.
func (m *Metrics) AddForwarded(action string) {
	if m != nil {
		m.forwarded.WithLabelValues(action).Inc()
	}
}
