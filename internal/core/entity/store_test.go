package entity

import (
	"testing"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReceivesPublishedValues(t *testing.T) {

	require := require.New(t)

	store := NewStore()
	pub := service.NewPublisher(nil)
	store.Attach(pub)

	for _, e := range domain.StateUpdateEvents(sbprotocol.StateTelemetry{Temperature1: 48.5, HdoLowTariff: true}) {
		pub.Publish(e)
	}
	pub.Publish(domain.ModeUpdateEvent("SMART"))
	pub.Publish(domain.ThermostatUpdateEvent(domain.ThermostatState{Mode: "heat", Action: "idle", Target: 60, Current: 48.5}))

	v, ok := store.Get(domain.ENTITY_ID_TEMP1)
	require.True(ok)
	require.Equal(48.5, v.Value)

	v, ok = store.Get(domain.ENTITY_ID_HDO_LOW_TARIFF)
	require.True(ok)
	require.Equal(true, v.Value)

	v, ok = store.Get(domain.ENTITY_ID_MODE)
	require.True(ok)
	require.Equal("SMART", v.Value)

	v, ok = store.Get(domain.ENTITY_ID_THERMOSTAT)
	require.True(ok)
	require.Equal(60, v.Value.(map[string]any)["target"])

	_, ok = store.Get(domain.ENTITY_ID_CONSUMPTION)
	require.False(ok)
}

func TestStoreSnapshotIsOrdered(t *testing.T) {

	store := NewStore()
	store.Text(domain.ENTITY_ID_STATE).Receive("ready")
	store.Float(domain.ENTITY_ID_CONSUMPTION).Receive(1.5)

	snapshot := store.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, domain.ENTITY_ID_CONSUMPTION, snapshot[0].Id)
	assert.Equal(t, domain.ENTITY_ID_STATE, snapshot[1].Id)
}
