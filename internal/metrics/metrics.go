// Package metrics holds the Prometheus series the gateway components report to.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry carries the gateway series plus the Go runtime and process
// collectors. It is served at the metrics endpoint.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	MessagesByIntent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcomm_messages_total",
			Help: "Inbound messages by classified intent.",
		},
		[]string{"intent"},
	)
	Rejections = factory.NewCounter(prometheus.CounterOpts{
		Name: "schoolcomm_rejections_total",
		Help: "Messages rejected by authorization or validation.",
	})
	Panics = factory.NewCounter(prometheus.CounterOpts{
		Name: "schoolcomm_processing_panics_total",
		Help: "Message handlers that panicked.",
	})
	deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcomm_deliveries_total",
			Help: "Recipient deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	DeliveriesSent = deliveries.WithLabelValues("sent")
	DeliveriesFail = deliveries.WithLabelValues("failed")
	SendRetries    = factory.NewCounter(prometheus.CounterOpts{
		Name: "schoolcomm_send_retries_total",
		Help: "Send attempts after the first.",
	})
	AcksFailed = factory.NewCounter(prometheus.CounterOpts{
		Name: "schoolcomm_ack_failures_total",
		Help: "Sender acknowledgments that could not be delivered.",
	})
	SendLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolcomm_send_latency_seconds",
			Help:    "Transport send latency per attempt.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"transport"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
