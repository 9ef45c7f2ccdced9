package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the evaluation pipeline.
type PipelineMetrics struct {
	evaluationsTotal *prometheus.CounterVec
	attemptsTotal    *prometheus.CounterVec
	evaluatorLatency *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	keptRatio        prometheus.Histogram
	riskFlagged      prometheus.Counter
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "pipeline",
			Name:      "evaluations_total",
			Help:      "Completed pipeline runs by outcome (ok or error kind)",
		}, []string{"provider", "outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "evaluator",
			Name:      "attempts_total",
			Help:      "Evaluator calls by result",
		}, []string{"provider", "result"}),
		evaluatorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "evaluator",
			Name:      "latency_seconds",
			Help:      "Latency of successful evaluator calls",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
		}, []string{"provider"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of local pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"stage"}),
		keptRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "pruner",
			Name:      "kept_turn_ratio",
			Help:      "Fraction of transcript turns kept after pruning",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		riskFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "pipeline",
			Name:      "risk_flagged_total",
			Help:      "Evaluations that returned flag=RISK",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.evaluationsTotal, m.attemptsTotal, m.evaluatorLatency, m.stageDuration, m.keptRatio, m.riskFlagged)
	return m
}

func (m *PipelineMetrics) ObserveEvaluation(provider, outcome string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *PipelineMetrics) ObserveAttempt(provider, result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(provider, result).Inc()
}

func (m *PipelineMetrics) ObserveEvaluatorLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.evaluatorLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *PipelineMetrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObservePruning(kept, original int) {
	if m == nil || original == 0 {
		return
	}
	m.keptRatio.Observe(float64(kept) / float64(original))
}

func (m *PipelineMetrics) IncRiskFlagged() {
	if m == nil {
		return
	}
	m.riskFlagged.Inc()
}
