package domain

import (
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
)

type SensorUpdateEventMixIn struct {
	Id string
}

// SensorUpdateEvent carries the new value of one entity.
type SensorUpdateEvent interface {
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type SelectUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type ClimateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value ThermostatState
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

const (
	THERMOSTAT_ACTION_OFF     = "off"
	THERMOSTAT_ACTION_IDLE    = "idle"
	THERMOSTAT_ACTION_HEATING = "heating"
	THERMOSTAT_MODE_HEAT      = "heat"
	THERMOSTAT_MODE_OFF       = "off"
)

type ThermostatState struct {
	Mode    string
	Action  string
	Target  int
	Current float64
}

// Non-entity events on the event stream.

type SessionStateChangedEvent struct {
	Session DeviceSession
}

type DeviceInfoEvent struct {
	Info sbprotocol.DeviceInfo
}

func floatEvent(id string, value float64, decimals uint) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id}, Value: value, Decimals: decimals}
}

func binaryEvent(id string, value bool) BinarySensorUpdateEvent {
	return BinarySensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id}, Value: value}
}

func textEvent(id string, value string) TextSensorUpdateEvent {
	return TextSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id}, Value: value}
}

// StateUpdateEvents maps a state sample to the plain sensor entities. Mode and
// thermostat are owned by the mode state machine.
func StateUpdateEvents(state sbprotocol.StateTelemetry) []SensorUpdateEvent {
	return []SensorUpdateEvent{
		floatEvent(ENTITY_ID_TEMP1, state.Temperature1, 1),
		floatEvent(ENTITY_ID_TEMP2, state.Temperature2, 1),
		binaryEvent(ENTITY_ID_HEAT_ON, state.HeatOn),
		binaryEvent(ENTITY_ID_HDO_LOW_TARIFF, state.HdoLowTariff),
		binaryEvent(ENTITY_ID_HDO_ENABLED, state.HdoEnabled),
	}
}

func InfoUpdateEvents(info sbprotocol.DeviceInfo) []SensorUpdateEvent {
	return []SensorUpdateEvent{
		textEvent(ENTITY_ID_VERSION, info.FirmwareVersion),
		textEvent(ENTITY_ID_BOARD_REV, info.BoardRevision),
		textEvent(ENTITY_ID_SERIAL, info.Serial),
		textEvent(ENTITY_ID_NAME, info.Name),
		textEvent(ENTITY_ID_MODEL, info.Model),
		textEvent(ENTITY_ID_CAPACITY, info.Capacity),
		textEvent(ENTITY_ID_HDO_INFO, info.HdoInfo),
		textEvent(ENTITY_ID_LAST_HDO_TIME, info.LastHdoTime),
		textEvent(ENTITY_ID_TIME, info.Time),
	}
}

func SessionUpdateEvents(session DeviceSession) []SensorUpdateEvent {
	return []SensorUpdateEvent{
		textEvent(ENTITY_ID_STATE, session.StateText()),
		binaryEvent(ENTITY_ID_BOILER_ONLINE, session.State == SessionReady),
	}
}

func ConsumptionUpdateEvent(record ConsumptionRecord) SensorUpdateEvent {
	return floatEvent(ENTITY_ID_CONSUMPTION, record.TotalKWh(), 3)
}

func ModeUpdateEvent(mode string) SensorUpdateEvent {
	return SelectUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: ENTITY_ID_MODE}, Value: mode}
}

func ThermostatUpdateEvent(state ThermostatState) SensorUpdateEvent {
	return ClimateUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: ENTITY_ID_THERMOSTAT}, Value: state}
}

func PinUpdateEvent(pin uint16) SensorUpdateEvent {
	return InputNumberSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: ENTITY_ID_PIN}, Value: float64(pin)}
}

func ResultUpdateEvent(id string, result string) SensorUpdateEvent {
	return textEvent(id, result)
}
