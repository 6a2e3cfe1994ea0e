package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reportflow/notifier/internal/domain"
)

const namespace = "notifier"

var (
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "processed_total",
			Help:      "Retried attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	claimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "claimed_total",
			Help:      "Due attempts claimed from the table",
		},
	)
)

func recordRetry(ch domain.Channel, result string) {
	retriesTotal.WithLabelValues(string(ch), result).Inc()
}

func recordClaimed(n int) {
	claimedTotal.Add(float64(n))
}
