package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently registered clients",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total inbound envelopes processed by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to route each inbound envelope type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	ConnectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connection_errors_total",
		Help: "Connection level failures by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(ConnectionErrors)
}
