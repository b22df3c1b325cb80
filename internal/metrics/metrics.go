// Package metrics exports optimization engine events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

const namespace = "promptforge"

// Metrics implements optimization.Observer.
type Metrics struct {
	attempts          *prometheus.CounterVec
	generationLatency prometheus.Histogram
	evaluationLatency prometheus.Histogram
	attemptScore      *prometheus.HistogramVec
	rewrites          *prometheus.CounterVec
	runs              *prometheus.CounterVec
	bestScore         *prometheus.HistogramVec
	iterations        prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	scoreBuckets := prometheus.LinearBuckets(0, 1, 11)

	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Attempts by score variant and outcome.",
		}, []string{"variant", "outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Image generation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		evaluationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Image evaluation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		attemptScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_score",
			Help:      "Aggregate score of scored attempts.",
			Buckets:   scoreBuckets,
		}, []string{"variant"}),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Rewrite steps, labelled by whether the current prompt was kept.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by termination reason.",
		}, []string{"reason"}),
		bestScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_best_score",
			Help:      "Best aggregate score per finished run.",
			Buckets:   scoreBuckets,
		}, []string{"variant"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations completed per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 20),
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.attempts, m.generationLatency, m.evaluationLatency, m.attemptScore,
		m.rewrites, m.runs, m.bestScore, m.iterations,
	}
}

// ObserveAttempt implements optimization.Observer.
func (m *Metrics) ObserveAttempt(a optimization.Attempt) {
	if a.GenerationLatency > 0 {
		m.generationLatency.Observe(a.GenerationLatency.Seconds())
	}
	if a.Failed() {
		m.attempts.WithLabelValues("none", "error").Inc()
		return
	}

	variant := string(a.Scores.Variant())
	m.attempts.WithLabelValues(variant, "scored").Inc()
	m.attemptScore.WithLabelValues(variant).Observe(a.Aggregate())
	if a.EvaluationLatency > 0 {
		m.evaluationLatency.Observe(a.EvaluationLatency.Seconds())
	}
}

// ObserveRewrite implements optimization.Observer.
func (m *Metrics) ObserveRewrite(fallback bool) {
	if fallback {
		m.rewrites.WithLabelValues("kept").Inc()
		return
	}
	m.rewrites.WithLabelValues("rewritten").Inc()
}

// ObserveRun implements optimization.Observer.
func (m *Metrics) ObserveRun(r *optimization.Result, reason optimization.Termination) {
	m.runs.WithLabelValues(string(reason)).Inc()
	if r == nil {
		return
	}
	m.iterations.Observe(float64(r.IterationsCompleted))
	if r.Best != nil && r.Best.Scores != nil {
		m.bestScore.WithLabelValues(string(r.Best.Scores.Variant())).Observe(r.BestScore())
	}
}
