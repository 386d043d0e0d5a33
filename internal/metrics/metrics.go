package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	SettlementOutcomeSettled           = "settled"
	SettlementOutcomeZero              = "zero_amount"
	SettlementOutcomeInsufficientFunds = "insufficient_funds"
	SettlementOutcomeConflict          = "conflict"
	SettlementOutcomeError             = "error"
)

// Metrics holds the consultation collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	settlements   *prometheus.CounterVec
	settledAmount prometheus.Counter
	transitions   *prometheus.CounterVec
	relayEvents   *prometheus.CounterVec
	relayDropped  prometheus.Counter
	onlineUsers   prometheus.Gauge
	notifications *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_settlements_total",
			Help: "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		settledAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_settled_amount_minor_total",
			Help: "Amount moved from requester balances to provider earnings, in minor units.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_session_transitions_total",
			Help: "Consultation state transitions by target status.",
		}, []string{"status"}),
		relayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_relay_events_total",
			Help: "Inbound realtime events by type and result.",
		}, []string{"event", "result"}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_relay_dropped_connections_total",
			Help: "Connections dropped because their send queue was full.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consult_online_users",
			Help: "Identities with at least one live connection on this instance.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_notifications_total",
			Help: "Notification dispatch results.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.settlements,
		m.settledAmount,
		m.transitions,
		m.relayEvents,
		m.relayDropped,
		m.onlineUsers,
		m.notifications,
	)
	return m
}

func (m *Metrics) RecordSettlement(outcome string, amountMinor int64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	if amountMinor > 0 {
		m.settledAmount.Add(float64(amountMinor))
	}
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRelayEvent(event, result string) {
	if m == nil {
		return
	}
	m.relayEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) RecordDroppedConnection() {
	if m == nil {
		return
	}
	m.relayDropped.Inc()
}

func (m *Metrics) UserOnline() {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

func (m *Metrics) UserOffline() {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
