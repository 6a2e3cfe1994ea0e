package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reportflow/notifier/internal/domain"
)

const namespace = "notifier"

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time spent in dispatcher Send calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "in_flight",
			Help:      "Dispatches currently in flight",
		},
	)

	dedupeSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "dedupe_skips_total",
			Help:      "Dispatches skipped because the same (event, channel, target) was already delivered",
		},
	)

	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_by_status",
			Help:      "Delivery attempts currently in each status",
		},
		[]string{"status"},
	)
)

func recordAttempt(ch domain.Channel, result string) {
	attemptsTotal.WithLabelValues(string(ch), result).Inc()
}

func recordSendDuration(ch domain.Channel, d time.Duration) {
	sendDuration.WithLabelValues(string(ch)).Observe(d.Seconds())
}

func recordDedupeSkip() {
	dedupeSkips.Inc()
}

// RecordQueueStats updates the attempts-by-status gauge from store counts.
func RecordQueueStats(counts map[domain.AttemptStatus]int) {
	for status, n := range counts {
		queueSize.WithLabelValues(string(status)).Set(float64(n))
	}
}
