package domain

import (
	"time"

	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SESSION      = "session"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_CONTROL      = "control"
	ACTOR_ID_CONSUMPTION  = "consumption"
	ACTOR_ID_PUBLISHER    = "publisher"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type QueryTelemetryRequest struct {
	ActorRequestMixIn
	Category sbprotocol.Category
}

type QueryTelemetryResponse struct {
	ActorResponseMixIn
	Category sbprotocol.Category
	Sample   sbprotocol.Sample
}

type WriteCommandRequest struct {
	ActorRequestMixIn
	Op     string
	Frames [][]byte
}

type WriteCommandResponse struct {
	ActorResponseMixIn
	Op string
}

type GetSessionStateRequest struct {
	ActorRequestMixIn
}

type GetSessionStateResponse struct {
	ActorResponseMixIn
	Session DeviceSession
}

// Samples routed by the poller.

type StateSampleReceived struct {
	State sbprotocol.StateTelemetry
}

type ConsumptionSampleReceived struct {
	Consumption sbprotocol.ConsumptionTelemetry
}

type FlushConsumptionRequest struct {
	ActorRequestMixIn
}

type FlushConsumptionResponse struct {
	ActorResponseMixIn
	Record ConsumptionRecord
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Selects      []GenericSelect
	Climates     []GenericClimate
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// TimingConfig holds the durations shared by the session, poller and control
// actors.
type TimingConfig struct {
	ConnectTimeout      time.Duration
	ResponseTimeout     time.Duration
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	StateInterval       time.Duration
	ConsumptionInterval time.Duration
	FlushInterval       time.Duration
	VerifyCycles        uint
}
