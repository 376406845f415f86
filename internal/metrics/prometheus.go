package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_dispatched_total",
			Help: "Total number of messages published and marked sent",
		},
	)

	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_failures_total",
			Help: "Total number of failed publishes, per destination key",
		},
		[]string{"key"},
	)

	DispatchCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_cycles_total",
			Help: "Total number of completed scheduler cycles",
		},
	)

	AdmissionAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_accepted_total",
			Help: "Inbound messages accepted and stored locally",
		},
	)

	AdmissionDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_dropped_total",
			Help: "Inbound messages dropped by the geofencing filter",
		},
	)

	ParseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_parse_failures_total",
			Help: "Inbound payloads rejected as malformed",
		},
	)

	UnreadMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unread_messages",
			Help: "Current number of unread messages in the local store",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ queue depth per device queue",
		},
		[]string{"queue"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(MessagesDispatched)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(DispatchCycles)
	prometheus.MustRegister(AdmissionAccepted)
	prometheus.MustRegister(AdmissionDropped)
	prometheus.MustRegister(ParseFailures)
	prometheus.MustRegister(UnreadMessages)
	prometheus.MustRegister(QueueDepth)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
