package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		renewalChargesTotal,
		renewalSweepDuration,
	)
}

var (
	renewalChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renewal_charges_total",
			Help: "Automatic renewal charges by outcome.",
		},
		[]string{"outcome"}, // 'succeeded', 'failed', 'skipped'
	)

	renewalSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renewal_sweep_duration_seconds",
			Help:    "Duration of one full renewal scheduler sweep.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
)

func IncRenewalCharge(outcome string) {
	renewalChargesTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveRenewalSweep(seconds float64) {
	renewalSweepDuration.Observe(seconds)
}
