package metrics

import (
	"errors"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartboiler"

// Metrics groups the controller counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	DecodeErrors         prometheus.Counter
	SkippedPolls         *prometheus.CounterVec
	LinkErrors           *prometheus.CounterVec
	Reconnects           prometheus.Counter
	VerificationFailures *prometheus.CounterVec
	MQTTPublishFailures  prometheus.Counter
	SessionState         prometheus.Gauge
	LinkInFlight         prometheus.Gauge
	LinkTransactions     *prometheus.HistogramVec
	EntityValue          *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Telemetry samples discarded because a response could not be decoded",
		}),
		SkippedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_polls_total",
			Help:      "Poll ticks skipped because the session was not ready or a poll was still running",
		}, []string{"category", "reason"}),
		LinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_errors_total",
			Help:      "BLE link failures by kind",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after the first one",
		}),
		VerificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Changes rolled back because no read confirmed them",
		}, []string{"entity"}),
		MQTTPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publish_failures_total",
			Help:      "MQTT publishes that failed or timed out",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Session state: 0 disconnected, 1 connecting, 2 authenticating, 3 ready, 4 error",
		}),
		LinkInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_in_flight",
			Help:      "Link transactions currently in flight",
		}),
		LinkTransactions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "link_transaction_seconds",
			Help:      "Duration of link transactions",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op", "result"}),
		EntityValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entity_value",
			Help:      "Last value of numeric and binary entities",
		}, []string{"entity"}),
	}
	m.Registry.MustRegister(
		m.DecodeErrors,
		m.SkippedPolls,
		m.LinkErrors,
		m.Reconnects,
		m.VerificationFailures,
		m.MQTTPublishFailures,
		m.SessionState,
		m.LinkInFlight,
		m.LinkTransactions,
		m.EntityValue,
	)
	return m
}

// ObserveError counts a link level error by its kind.
func (m *Metrics) ObserveError(err error) {
	if m == nil || err == nil {
		return
	}
	var (
		linkErr    *sbprotocol.LinkError
		timeoutErr *sbprotocol.TimeoutError
		authErr    *sbprotocol.AuthError
		decodeErr  *sbprotocol.DecodeError
	)
	switch {
	case errors.As(err, &decodeErr):
		m.DecodeErrors.Inc()
	case errors.As(err, &authErr):
		m.LinkErrors.WithLabelValues("auth").Inc()
	case errors.As(err, &timeoutErr):
		m.LinkErrors.WithLabelValues("timeout").Inc()
	case errors.As(err, &linkErr):
		m.LinkErrors.WithLabelValues("link").Inc()
	}
}

func (m *Metrics) SkippedPoll(category sbprotocol.Category, reason string) {
	if m == nil {
		return
	}
	m.SkippedPolls.WithLabelValues(category.String(), reason).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) VerificationFailed(entity string) {
	if m == nil {
		return
	}
	m.VerificationFailures.WithLabelValues(entity).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.MQTTPublishFailures.Inc()
}

func (m *Metrics) SetSessionState(state domain.SessionState) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

// LinkInstrument feeds the transaction histogram and the in-flight gauge.
func (m *Metrics) LinkInstrument() sbprotocol.LinkInstrument {
	if m == nil {
		return sbprotocol.LinkInstrument{}
	}
	return sbprotocol.LinkInstrument{
		Begin: func(string) {
			m.LinkInFlight.Inc()
		},
		End: func(op string, elapsed time.Duration, err error) {
			m.LinkInFlight.Dec()
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.LinkTransactions.WithLabelValues(op, result).Observe(elapsed.Seconds())
		},
	}
}

// Registrar is implemented by *service.Publisher.
type Registrar interface {
	RegisterFloat(id string, sink port.Sink[float64])
	RegisterBinary(id string, sink port.Sink[bool])
}

// Attach exports float and binary entities as gauges.
func (m *Metrics) Attach(r Registrar) {
	for _, e := range domain.Entities {
		gauge := m.EntityValue.WithLabelValues(e.Id)
		switch e.Kind {
		case domain.EntityFloat:
			r.RegisterFloat(e.Id, port.SinkFunc[float64](gauge.Set))
		case domain.EntityBinary:
			r.RegisterBinary(e.Id, port.SinkFunc[bool](func(v bool) {
				if v {
					gauge.Set(1)
				} else {
					gauge.Set(0)
				}
			}))
		}
	}
}
