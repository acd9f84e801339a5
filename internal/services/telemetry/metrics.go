package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome di un messaggio in ingresso.
const (
	OutcomeAccepted     = "accepted"
	OutcomeMalformed    = "malformed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeDuplicate    = "duplicate"
	OutcomeStoreError   = "store_error"
	OutcomeIgnored      = "ignored"
	OutcomePanic        = "panic"
)

type Metrics struct {
	messages      *prometheus.CounterVec
	writeDuration prometheus.Histogram
	commands      *prometheus.CounterVec
	queries       *prometheus.CounterVec
	mqttConnected prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartgarden",
			Subsystem: "telemetry",
			Name:      "messages_total",
			Help:      "Inbound device messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartgarden",
			Subsystem: "telemetry",
			Name:      "write_duration_seconds",
			Help:      "Time-series write latency",
			Buckets:   prometheus.DefBuckets,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartgarden",
			Subsystem: "telemetry",
			Name:      "commands_total",
			Help:      "Commands dispatched to devices by name and outcome",
		}, []string{"command", "outcome"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartgarden",
			Subsystem: "telemetry",
			Name:      "queries_total",
			Help:      "Time-series queries by operation and outcome",
		}, []string{"op", "outcome"}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartgarden",
			Subsystem: "telemetry",
			Name:      "mqtt_connected",
			Help:      "1 while the broker session is up",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.writeDuration, m.commands, m.queries, m.mqttConnected)
	}
	return m
}

func (m *Metrics) message(kind, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) observeWrite(seconds float64) {
	if m == nil {
		return
	}
	m.writeDuration.Observe(seconds)
}

func (m *Metrics) command(name, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) query(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.queries.WithLabelValues(op, outcome).Inc()
}

// SetConnected va collegato a mqttclient.Manager.OnStateChange.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.mqttConnected.Set(1)
	} else {
		m.mqttConnected.Set(0)
	}
}
