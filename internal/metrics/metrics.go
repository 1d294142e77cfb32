// Package metrics exposes experiment counters as Prometheus metrics.
//
// Runs are batch jobs, so the registry is written to a node-exporter textfile
// after each run rather than scraped.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/funnelsim/internal/models"
)

const namespace = "funnelsim"

// Recorder collects run metrics into its own registry. A nil Recorder is
// safe to use; all methods are no-ops.
type Recorder struct {
	registry *prometheus.Registry

	trials        *prometheus.CounterVec
	stageHits     *prometheus.CounterVec
	saturated     *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	runDuration   *prometheus.GaugeVec
	runMean       *prometheus.GaugeVec
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	policyLabels := []string{"policy", "decay"}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Completed trials.",
		}, policyLabels),
		stageHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_hits_total",
			Help:      "Funnel stage hits across all trials.",
		}, append([]string{"stage"}, policyLabels...)),
		saturated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saturated_draws_total",
			Help:      "Funnel draws whose probability exceeded 1.",
		}, policyLabels),
		trialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Wall-clock duration of a single trial.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, policyLabels),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall-clock duration of the most recent run.",
		}, policyLabels),
		runMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_stage_mean",
			Help:      "Mean stage hits per trial in the most recent run.",
		}, append([]string{"stage"}, policyLabels...)),
	}

	r.registry.MustRegister(
		r.trials,
		r.stageHits,
		r.saturated,
		r.trialDuration,
		r.runDuration,
		r.runMean,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func stageLabel(s models.Stage) string {
	return "stage" + strconv.Itoa(int(s))
}

// ObserveTrial records one completed trial.
func (r *Recorder) ObserveTrial(policy string, decay bool, result *models.TrialResult, elapsed time.Duration) {
	if r == nil || result == nil {
		return
	}
	d := strconv.FormatBool(decay)

	r.trials.WithLabelValues(policy, d).Inc()
	r.saturated.WithLabelValues(policy, d).Add(float64(result.Saturated))
	r.trialDuration.WithLabelValues(policy, d).Observe(elapsed.Seconds())
	for _, s := range models.Stages {
		r.stageHits.WithLabelValues(stageLabel(s), policy, d).Add(float64(result.Get(s)))
	}
}

// ObserveRun records the aggregate of a finished run.
func (r *Recorder) ObserveRun(policy string, agg *models.AggregateResult) {
	if r == nil || agg == nil {
		return
	}
	d := strconv.FormatBool(agg.DecayEnabled)

	r.runDuration.WithLabelValues(policy, d).Set(agg.Duration.Seconds())
	for _, s := range models.Stages {
		r.runMean.WithLabelValues(stageLabel(s), policy, d).Set(agg.Mean.Get(s))
	}
}

// WriteTextfile writes the registry in the text exposition format to path,
// atomically, for the node-exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
