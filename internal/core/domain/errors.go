package domain

import (
	"errors"
	"fmt"

	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
)

var (
	ErrSessionNotReady    = errors.New("boiler session is not ready")
	ErrInvalidPin         = fmt.Errorf("pin must be within %d..%d", sbprotocol.MinPin, sbprotocol.MaxPin)
	ErrInvalidMode        = errors.New("mode not supported by this boiler generation")
	ErrInvalidTemperature = fmt.Errorf("target temperature must be within %d..%d", sbprotocol.MinTargetTemperature, sbprotocol.MaxTargetTemperature)
	ErrPinNotSupported    = errors.New("this boiler generation does not use a pairing pin")
	ErrRequestRejected    = sbprotocol.ErrRequestRejected
	ErrLinkBusy           = sbprotocol.ErrLinkBusy
	ErrChangeSuperseded   = errors.New("change superseded by a newer request")
)

// VerificationFailure reports a write that no read confirmed.
type VerificationFailure struct {
	Entity    string
	Requested string
	Reason    string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("%s change to %s not applied: %s", e.Entity, e.Requested, e.Reason)
}

func ValidatePin(pin uint16) error {
	if pin < sbprotocol.MinPin || pin > sbprotocol.MaxPin {
		return ErrInvalidPin
	}
	return nil
}

func ValidateTargetTemperature(temperature int) error {
	if temperature < sbprotocol.MinTargetTemperature || temperature > sbprotocol.MaxTargetTemperature {
		return ErrInvalidTemperature
	}
	return nil
}
