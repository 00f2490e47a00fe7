// Package monitoring exposes prometheus metrics for the resolution pipeline
// and a store-backed snapshot collector for the status command.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_resolutions_total",
		Help: "Resolution attempts by stage and outcome.",
	}, []string{"stage", "outcome"})

	webhookRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_webhook_rejections_total",
		Help: "Inbound webhook requests rejected at the trust boundary.",
	}, []string{"reason"})

	verdictConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linker_verdict_confidence",
		Help:    "Confidence reported by the AI matcher verdict.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

// ResolutionRecorded counts one ledger append.
func ResolutionRecorded(stage, outcome string) {
	resolutionsTotal.WithLabelValues(stage, outcome).Inc()
}

// WebhookRejected counts one rejected webhook delivery.
func WebhookRejected(reason string) {
	webhookRejectionsTotal.WithLabelValues(reason).Inc()
}

// VerdictConfidence observes one AI verdict's confidence.
func VerdictConfidence(v float64) {
	verdictConfidence.Observe(v)
}
