package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTicksTotal counts scheduler tick executions.
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_alert_scheduler_ticks_total",
		Help: "Number of scheduler ticks executed.",
	})

	// SubscriptionRunsTotal counts pipeline runs by outcome class.
	SubscriptionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_alert_subscription_runs_total",
		Help: "Number of per-subscription pipeline runs by outcome.",
	}, []string{"status"})

	// NotificationsSentTotal counts delivered alerts by kind.
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_alert_notifications_sent_total",
		Help: "Number of alert notifications delivered.",
	}, []string{"kind"})

	// ProviderFailoversTotal counts candle fetch attempts that failed and
	// fell through to the next provider.
	ProviderFailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_alert_provider_failovers_total",
		Help: "Number of failed candle provider attempts by provider.",
	}, []string{"provider"})

	// RunDurationSeconds observes how long one subscription run takes.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_alert_run_duration_seconds",
		Help:    "Duration of per-subscription pipeline runs.",
		Buckets: prometheus.DefBuckets,
	})
)

// StatusClass collapses detailed statuses into a bounded label set; error
// statuses carry free-text detail that must not become label values.
func StatusClass(status string) string {
	if strings.HasPrefix(status, "error:") {
		return "error"
	}
	return status
}
