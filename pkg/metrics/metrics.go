// Package metrics exposes the Prometheus counters for the payment
// pipeline. Metrics are registered on the default registry and served by
// promhttp from the router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_processed_total",
		Help: "Payment attempts by gateway and resulting status.",
	}, []string{"gateway", "status"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Inbound gateway webhooks by gateway and verification result.",
	}, []string{"gateway", "result"})

	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_scheduled_total",
		Help: "Failed payments handed to the delayed retry queue.",
	})

	RetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_exhausted_total",
		Help: "Failed payments expired after exhausting their retry budget.",
	})

	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payment_retry_queue_depth",
		Help: "Entries currently waiting in the delayed retry queue.",
	})

	RefundsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_issued_total",
		Help: "Refunds issued by gateway.",
	}, []string{"gateway"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
