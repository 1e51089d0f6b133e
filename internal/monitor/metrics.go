package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

// Metrics are the core's prometheus instruments.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	DecisionErrors  *prometheus.CounterVec
	RiskRejections  prometheus.Counter
	RetrainOutcomes *prometheus.CounterVec
	DecisionLatency prometheus.Histogram
	BarsDropped     prometheus.Counter
}

// NewMetrics builds and registers the instrument set. Registration is
// idempotent across tests via the package-level once.
func NewMetrics() *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trader",
				Subsystem: "engine",
				Name:      "decisions_total",
				Help:      "Decisions by resulting action",
			},
			[]string{"symbol", "action"},
		),
		DecisionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trader",
				Subsystem: "engine",
				Name:      "decision_errors_total",
				Help:      "Decision-path errors by kind",
			},
			[]string{"kind"},
		),
		RiskRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trader",
				Subsystem: "risk",
				Name:      "rejections_total",
				Help:      "Actions vetoed by the risk gate",
			},
		),
		RetrainOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trader",
				Subsystem: "adapt",
				Name:      "retrain_outcomes_total",
				Help:      "Retrain attempts by outcome",
			},
			[]string{"outcome"},
		),
		DecisionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "trader",
				Subsystem: "engine",
				Name:      "decision_latency_seconds",
				Help:      "Latency of the bar-to-intent path",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BarsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trader",
				Subsystem: "engine",
				Name:      "bars_dropped_total",
				Help:      "Bars dropped on full per-symbol queues",
			},
		),
	}

	once.Do(func() {
		prometheus.MustRegister(
			m.Decisions, m.DecisionErrors, m.RiskRejections,
			m.RetrainOutcomes, m.DecisionLatency, m.BarsDropped,
		)
	})
	return m
}
