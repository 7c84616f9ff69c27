package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_updates_total",
			Help: "Chat updates received, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_transitions_total",
			Help: "Conversation state transitions",
		},
		[]string{"conversation", "from", "to"},
	)

	CrossTalkDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_crosstalk_dropped_total",
			Help: "Messages dropped because they came from a chat other than the bound one",
		},
		[]string{"conversation"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querybot_active_sessions",
			Help: "Conversations currently bound to a chat",
		},
	)

	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_queries_total",
			Help: "Queries executed, by kind and outcome",
		},
		[]string{"conversation", "kind", "outcome"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querybot_query_duration_seconds",
			Help:    "Duration of query execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Notification guard metrics
	GuardEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_guard_evaluations_total",
			Help: "Responses inspected by the notification guard, by result",
		},
		[]string{"result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybot_notifications_total",
			Help: "Notifications sent, by notifier and outcome",
		},
		[]string{"notifier", "outcome"},
	)

	NotificationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "querybot_notifications_suppressed_total",
			Help: "Notifications dropped by the suppression window",
		},
	)
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeIgnored = "ignored"
)

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
