package service

import (
	"errors"
	"testing"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyMachine(t *testing.T) *ModeMachine {
	m := NewModeMachine(domain.GenerationB, 3, domain.ENTITY_ID_TEMP1)
	m.SetReady(true)
	m.Observe(sbprotocol.StateTelemetry{Mode: 1, Temperature1: 48.5, Temperature2: 52.1, TargetTemperature: 60})
	mode, ok := m.DisplayedMode()
	require.True(t, ok)
	require.Equal(t, "NORMAL", mode)
	return m
}

func TestModeConfirmedWithinOneCycle(t *testing.T) {

	require := require.New(t)

	m := readyMachine(t)
	change, err := m.RequestMode("smart")
	require.NoError(err)
	require.Equal([][]byte{sbprotocol.SetHdoEnabledFrame(false), sbprotocol.SetModeFrame(3)}, change.Frames)
	require.Nil(change.Superseded)

	mode, _ := m.DisplayedMode()
	require.Equal("SMART", mode)

	// a read before the write completed is not a verification attempt
	require.Empty(m.Observe(sbprotocol.StateTelemetry{Mode: 1, TargetTemperature: 60}))
	require.True(m.Pending(domain.ENTITY_ID_MODE))

	require.True(m.WriteSucceeded(domain.ENTITY_ID_MODE, change.Seq))
	outcomes := m.Observe(sbprotocol.StateTelemetry{Mode: 3, TargetTemperature: 60})
	require.Equal([]Outcome{{Entity: domain.ENTITY_ID_MODE, Requested: "SMART", Applied: true}}, outcomes)
	require.False(m.Pending(domain.ENTITY_ID_MODE))

	mode, _ = m.DisplayedMode()
	require.Equal("SMART", mode)
}

func TestModeRollbackAfterVerifyCycles(t *testing.T) {

	require := require.New(t)

	m := readyMachine(t)
	change, err := m.RequestMode("HDO")
	require.NoError(err)
	m.WriteSucceeded(domain.ENTITY_ID_MODE, change.Seq)

	stale := sbprotocol.StateTelemetry{Mode: 1, TargetTemperature: 60}
	require.Empty(m.Observe(stale))
	require.Empty(m.Observe(stale))
	outcomes := m.Observe(stale)
	require.Len(outcomes, 1)
	require.False(outcomes[0].Applied)
	require.NotNil(outcomes[0].Failure)
	require.Equal("HDO", outcomes[0].Failure.Requested)

	mode, _ := m.DisplayedMode()
	require.Equal("NORMAL", mode)
}

func TestModeRequestRejectedWhenNotReady(t *testing.T) {

	require := require.New(t)

	m := readyMachine(t)
	m.SetReady(false)

	_, err := m.RequestMode("SMART")
	require.ErrorIs(err, domain.ErrSessionNotReady)
	_, err = m.RequestTargetTemperature(55)
	require.ErrorIs(err, domain.ErrSessionNotReady)

	mode, _ := m.DisplayedMode()
	require.Equal("NORMAL", mode)
}

func TestModeRequestValidation(t *testing.T) {

	m := readyMachine(t)

	_, err := m.RequestMode("PROG")
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
	assert.False(t, m.Pending(domain.ENTITY_ID_MODE))

	_, err = m.RequestTargetTemperature(90)
	assert.ErrorIs(t, err, domain.ErrInvalidTemperature)
	assert.False(t, m.Pending(domain.ENTITY_ID_THERMOSTAT))
}

func TestWriteFailureReverts(t *testing.T) {

	require := require.New(t)

	m := readyMachine(t)
	change, err := m.RequestTargetTemperature(55)
	require.NoError(err)

	ts, _ := m.Thermostat()
	require.Equal(55, ts.Target)

	outcome, ok := m.WriteFailed(domain.ENTITY_ID_THERMOSTAT, change.Seq, errors.New("link lost"))
	require.True(ok)
	require.Equal("55", outcome.Requested)
	require.Equal("link lost", outcome.Failure.Reason)

	ts, _ = m.Thermostat()
	require.Equal(60, ts.Target)
}

func TestSessionLossFailsPendingChanges(t *testing.T) {

	m := readyMachine(t)
	_, err := m.RequestMode("SMART")
	require.NoError(t, err)
	_, err = m.RequestTargetTemperature(50)
	require.NoError(t, err)

	outcomes := m.SetReady(false)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "session lost", outcomes[0].Failure.Reason)
	assert.Equal(t, domain.ENTITY_ID_THERMOSTAT, outcomes[1].Entity)
}

func TestTargetTemperatureConfirmed(t *testing.T) {

	m := readyMachine(t)
	change, err := m.RequestTargetTemperature(65)
	require.NoError(t, err)
	m.WriteSucceeded(domain.ENTITY_ID_THERMOSTAT, change.Seq)

	outcomes := m.Observe(sbprotocol.StateTelemetry{Mode: 1, TargetTemperature: 65})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Applied)
	assert.Equal(t, "65", outcomes[0].Requested)
}

func TestNewerModeRequestSupersedesPending(t *testing.T) {

	require := require.New(t)

	m := readyMachine(t)
	first, err := m.RequestMode("SMART")
	require.NoError(err)
	second, err := m.RequestMode("HDO")
	require.NoError(err)

	require.NotNil(second.Superseded)
	require.True(second.Superseded.Superseded)
	require.Equal("SMART", second.Superseded.Requested)
	require.Equal("superseded by HDO", second.Superseded.Failure.Reason)

	// the ack of the first write does not start verification of the second
	require.False(m.WriteSucceeded(domain.ENTITY_ID_MODE, first.Seq))
	_, ok := m.WriteFailed(domain.ENTITY_ID_MODE, first.Seq, errors.New("timeout"))
	require.False(ok)

	stale := sbprotocol.StateTelemetry{Mode: 1, TargetTemperature: 60}
	for n := 0; n < 5; n++ {
		require.Empty(m.Observe(stale))
	}
	require.True(m.Pending(domain.ENTITY_ID_MODE))

	require.True(m.WriteSucceeded(domain.ENTITY_ID_MODE, second.Seq))
	outcomes := m.Observe(sbprotocol.StateTelemetry{Mode: 2, TargetTemperature: 60})
	require.Equal([]Outcome{{Entity: domain.ENTITY_ID_MODE, Requested: "HDO", Applied: true}}, outcomes)
}

func TestNewerTargetRequestSupersedesPending(t *testing.T) {

	m := readyMachine(t)
	first, err := m.RequestTargetTemperature(55)
	require.NoError(t, err)
	second, err := m.RequestTargetTemperature(65)
	require.NoError(t, err)

	require.NotNil(t, second.Superseded)
	assert.Equal(t, "55", second.Superseded.Requested)
	assert.NotEqual(t, first.Seq, second.Seq)

	ts, _ := m.Thermostat()
	assert.Equal(t, 65, ts.Target)
}

func TestThermostatDerivation(t *testing.T) {

	assert := assert.New(t)

	m := NewModeMachine(domain.GenerationB, 3, domain.ENTITY_ID_TEMP2)
	_, ok := m.Thermostat()
	assert.False(ok)

	m.Observe(sbprotocol.StateTelemetry{Mode: 1, HeatOn: true, Temperature1: 40, Temperature2: 45.5, TargetTemperature: 60})
	ts, ok := m.Thermostat()
	assert.True(ok)
	assert.Equal(domain.ThermostatState{Mode: domain.THERMOSTAT_MODE_HEAT, Action: domain.THERMOSTAT_ACTION_HEATING, Target: 60, Current: 45.5}, ts)

	m.Observe(sbprotocol.StateTelemetry{Mode: 0, HeatOn: false, Temperature1: 40, Temperature2: 45.5, TargetTemperature: 60})
	ts, _ = m.Thermostat()
	assert.Equal(domain.THERMOSTAT_MODE_OFF, ts.Mode)
	assert.Equal(domain.THERMOSTAT_ACTION_OFF, ts.Action)

	// the upper sensor is mirrored unless configured otherwise
	def := NewModeMachine(domain.GenerationB, 3, "")
	def.Observe(sbprotocol.StateTelemetry{Mode: 1, Temperature1: 40, Temperature2: 45.5, TargetTemperature: 60})
	ts, _ = def.Thermostat()
	assert.Equal(45.5, ts.Current)

	a := NewModeMachine(domain.GenerationA, 3, domain.ENTITY_ID_TEMP1)
	a.Observe(sbprotocol.StateTelemetry{Mode: 0, Temperature1: 40, TargetTemperature: 60})
	ts, _ = a.Thermostat()
	assert.Equal(domain.THERMOSTAT_ACTION_IDLE, ts.Action)
	assert.Equal(40.0, ts.Current)
}
