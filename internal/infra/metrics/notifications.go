package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		notificationsCreatedTotal,
		notificationPushTotal,
	)
}

var (
	notificationsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Mailbox notifications created, labeled by kind.",
		},
		[]string{"kind"},
	)

	// Push attempts grouped by kind and delivery status.
	// status: sent|error|no_chat
	notificationPushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_push_total",
			Help: "Telegram pushes for mailbox notifications by kind and delivery status.",
		},
		[]string{"kind", "status"},
	)
)

func IncNotificationCreated(kind string) {
	notificationsCreatedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncNotificationPush(kind, status string) {
	notificationPushTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}
