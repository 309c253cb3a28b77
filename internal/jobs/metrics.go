package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/consolbatch/internal/pipeline"
)

// Metrics exposes Prometheus collectors for background jobs and the unit
// pipelines they drive.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveUnit counts a unit pipeline outcome and its wall time. Failed
// outcomes are labelled with the stage that stopped them.
func (m *Metrics) ObserveUnit(outcome pipeline.Outcome) {
	if m == nil {
		return
	}
	stage := string(outcome.Stage)
	if stage == "" {
		stage = "none"
		if !outcome.Succeeded() {
			stage = "gate"
		}
	}
	m.units.WithLabelValues(string(outcome.Status), stage).Inc()
	m.unitDuration.WithLabelValues(string(outcome.Status)).Observe(outcome.Elapsed.Seconds())
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consolbatch_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consolbatch_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consolbatch_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"job"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consolbatch_unit_pipelines_total",
		Help: "Unit pipeline outcomes grouped by status and failing stage.",
	}, []string{"status", "stage"})
	unitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consolbatch_unit_pipeline_duration_seconds",
		Help:    "Wall time of a single unit pipeline.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	registerer.MustRegister(runs, failures, duration, units, unitDuration)
	return &Metrics{runs: runs, failures: failures, duration: duration, units: units, unitDuration: unitDuration}
}
