package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ChatTurns         *prometheus.CounterVec
	StoreOps          *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	SessionResets     prometheus.Counter
	WSMessages        *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		StoreOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_store_ops_total",
			Help:      "History store operations by op and result.",
		}, []string{"op", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider errors by provider and code.",
		}, []string{"provider", "code"}),
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Latency of upstream completion calls in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		SessionResets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Chat session resets.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreOp(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.StoreOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveReset() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
