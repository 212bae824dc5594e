package domain

import (
	"time"
)

type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionAuthenticating
	SessionReady
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionAuthenticating:
		return "authenticating"
	case SessionReady:
		return "ready"
	case SessionError:
		return "error"
	}
	return "unknown"
}

// DeviceSession is the link state of the one boiler the service talks to.
type DeviceSession struct {
	Address   string
	State     SessionState
	LastSeen  time.Time
	Pin       uint16
	LastError error
}

// StateText is the value of the textual state entity.
func (s DeviceSession) StateText() string {
	if s.LastError != nil && (s.State == SessionError || s.State == SessionDisconnected) {
		return s.State.String() + ": " + s.LastError.Error()
	}
	return s.State.String()
}

// ConsumptionRecord is the persisted consumption total.
type ConsumptionRecord struct {
	TotalWh     uint64
	LastRawWh   uint32
	HasBaseline bool
	UpdatedAt   time.Time
}

func (r ConsumptionRecord) TotalKWh() float64 {
	return float64(r.TotalWh) / 1000
}
