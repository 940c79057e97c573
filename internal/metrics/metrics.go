package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages sent, by path (realtime or fallback).",
	}, []string{"path"})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Inbound messages folded into the conversation store.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_transport_reconnects_total",
		Help: "Reconnect attempts scheduled after a transport error.",
	})

	FallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_fallback_failures_total",
		Help: "Synchronous fallback sends that failed after retries.",
	})

	OfferResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_offer_responses_total",
		Help: "Offer responses applied, by action.",
	}, []string{"action"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
