package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveError(t *testing.T) {

	assert := assert.New(t)

	m := New()
	m.ObserveError(&sbprotocol.DecodeError{Packet: sbprotocol.PacketSensor1, Reason: "garbled"})
	m.ObserveError(&sbprotocol.TimeoutError{Op: "query state"})
	m.ObserveError(&sbprotocol.LinkError{Op: "connect", Err: errors.New("no adapter")})
	m.ObserveError(&sbprotocol.LinkError{Op: "disconnect", Err: errors.New("peer")})

	assert.Equal(1.0, testutil.ToFloat64(m.DecodeErrors))
	assert.Equal(1.0, testutil.ToFloat64(m.LinkErrors.WithLabelValues("timeout")))
	assert.Equal(2.0, testutil.ToFloat64(m.LinkErrors.WithLabelValues("link")))
}

func TestNilMetricsIsNoop(t *testing.T) {

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveError(errors.New("x"))
		m.SkippedPoll(sbprotocol.CategoryState, "not_ready")
		m.SetSessionState(domain.SessionReady)
		m.VerificationFailed(domain.ENTITY_ID_MODE)
		m.PublishFailed()
		m.Reconnect()
	})
}

func TestLinkInstrument(t *testing.T) {

	m := New()
	instrument := m.LinkInstrument()

	instrument.Begin("query state")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkInFlight))
	instrument.End("query state", 200*time.Millisecond, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LinkInFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LinkTransactions))
}

func TestEntityGauges(t *testing.T) {

	m := New()
	pub := service.NewPublisher(nil)
	m.Attach(pub)

	for _, e := range domain.StateUpdateEvents(sbprotocol.StateTelemetry{Temperature1: 48.5, HeatOn: true}) {
		pub.Publish(e)
	}

	assert.Equal(t, 48.5, testutil.ToFloat64(m.EntityValue.WithLabelValues(domain.ENTITY_ID_TEMP1)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntityValue.WithLabelValues(domain.ENTITY_ID_HEAT_ON)))
}
