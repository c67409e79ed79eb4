package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for the consult flows. All
// observers are nil-safe so collaborators can run without a registry.
type Metrics struct {
	transitions      *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	paymentVerifies  *prometheus.CounterVec
	realtimeDelivery *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "calls",
			Name:      "transitions_total",
			Help:      "Video call state transitions by operation and outcome",
		}, []string{"operation", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Outbound requests to external providers",
		}, []string{"provider", "operation", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound provider requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notification dispatches by kind and outcome",
		}, []string{"kind", "outcome"}),
		paymentVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment signature verifications by outcome",
		}, []string{"outcome"}),
		realtimeDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "realtime",
			Name:      "changes_total",
			Help:      "Change feed events by table and delivery result",
		}, []string{"table", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.providerCalls, m.providerLatency, m.notifications, m.paymentVerifies, m.realtimeDelivery)
	return m
}

func (m *Metrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveProvider(provider, operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation, status).Inc()
	m.providerLatency.WithLabelValues(provider, operation).Observe(seconds)
}

func (m *Metrics) ObserveNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObservePaymentVerification(outcome string) {
	if m == nil {
		return
	}
	m.paymentVerifies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveChange(table, result string) {
	if m == nil {
		return
	}
	m.realtimeDelivery.WithLabelValues(table, result).Inc()
}
