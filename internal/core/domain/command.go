package domain

// BoilerCommandRequest

type BoilerCommandRequest interface {
	ActorRequest
	BoilerCommand() string
}

type BoilerCommandRequestMixIn struct {
	ActorRequestMixIn
}

const (
	COMMAND_STATUS_PENDING  = "pending"
	COMMAND_STATUS_ACCEPTED = "accepted"
	COMMAND_STATUS_APPLIED  = "applied"
	COMMAND_STATUS_FAILED   = "failed"
)

// BoilerCommandResponse answers every BoilerCommandRequest. Pending means the
// write reached the device and waits for a confirming read.
type BoilerCommandResponse struct {
	ActorResponseMixIn
	Status string
}

// Boiler commands

type SetModeRequest struct {
	BoilerCommandRequestMixIn
	Mode string
}

func (SetModeRequest) BoilerCommand() string { return "set_mode" }

type SetTargetTemperatureRequest struct {
	BoilerCommandRequestMixIn
	Temperature int
}

func (SetTargetTemperatureRequest) BoilerCommand() string { return "set_temperature" }

type SetHdoEnabledRequest struct {
	BoilerCommandRequestMixIn
	Enabled bool
}

func (SetHdoEnabledRequest) BoilerCommand() string { return "set_hdo_enabled" }

// SetPairingPinRequest queues pin for the next authentication.
type SetPairingPinRequest struct {
	BoilerCommandRequestMixIn
	Pin uint16
}

func (SetPairingPinRequest) BoilerCommand() string { return "set_pin" }

// ensure interface compliance
var (
	_ BoilerCommandRequest = SetModeRequest{}
	_ BoilerCommandRequest = SetTargetTemperatureRequest{}
	_ BoilerCommandRequest = SetHdoEnabledRequest{}
	_ BoilerCommandRequest = SetPairingPinRequest{}
)
