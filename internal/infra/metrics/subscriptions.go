package metrics

import (
	"peach-subscription-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsSuspendedTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionsSuspendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_suspended_total",
			Help: "Total number of subscriptions suspended after their grace window ran out.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncSubscriptionsSuspended(count int) {
	subscriptionsSuspendedTotal.Add(float64(count))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	// Set the gauge for each status present in the map.
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusPending,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusGrace,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusSuspended,
		model.SubscriptionStatusCancelled,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			subscriptionsTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}
