package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
)

// Outcome is the final result of a mode or target temperature change.
type Outcome struct {
	Entity    string
	Requested string
	Applied   bool
	Failure   *domain.VerificationFailure

	// Superseded is set when a newer request replaced the change.
	Superseded bool
}

// Change is an accepted request. Seq ties the result of the write back to
// it; a pending change it replaced is reported in Superseded.
type Change struct {
	Seq        uint64
	Frames     [][]byte
	Superseded *Outcome
}

// ModeMachine tracks the confirmed operating mode and target temperature and
// the changes requested on top of them. A change is applied only when a read
// reports the requested value; otherwise it is rolled back after
// VerifyCycles reads.
type ModeMachine struct {
	Generation    domain.Generation
	VerifyCycles  uint
	CurrentSensor string

	ready bool

	hasState bool
	state    sbprotocol.StateTelemetry

	seq    uint64
	mode   *pendingChange[string]
	target *pendingChange[int]
}

func NewModeMachine(gen domain.Generation, verifyCycles uint, currentSensor string) *ModeMachine {
	if verifyCycles == 0 {
		verifyCycles = 1
	}
	if currentSensor == "" {
		currentSensor = domain.ENTITY_ID_TEMP2
	}
	return &ModeMachine{
		Generation:    gen,
		VerifyCycles:  verifyCycles,
		CurrentSensor: currentSensor,
	}
}

// SetReady records the session state. Changes still pending when the session
// is lost fail.
func (m *ModeMachine) SetReady(ready bool) []Outcome {
	m.ready = ready
	if ready {
		return nil
	}
	var outcomes []Outcome
	if m.mode != nil {
		outcomes = append(outcomes, m.failMode("session lost"))
	}
	if m.target != nil {
		outcomes = append(outcomes, m.failTarget("session lost"))
	}
	return outcomes
}

func (m *ModeMachine) Ready() bool {
	return m.ready
}

// RequestMode validates mode and returns the frames to write.
func (m *ModeMachine) RequestMode(mode string) (Change, error) {
	if !m.ready {
		return Change{}, domain.ErrSessionNotReady
	}
	frames, err := m.Generation.ModeFrames(mode)
	if err != nil {
		return Change{}, err
	}
	requested := strings.ToUpper(mode)
	var change Change
	if m.mode != nil {
		change.Superseded = supersede(m.failMode("superseded by " + requested))
	}
	m.seq++
	m.mode = &pendingChange[string]{Requested: requested, CyclesLeft: m.VerifyCycles, seq: m.seq}
	change.Seq = m.seq
	change.Frames = frames
	return change, nil
}

// RequestTargetTemperature validates temperature and returns the frame to write.
func (m *ModeMachine) RequestTargetTemperature(temperature int) (Change, error) {
	if !m.ready {
		return Change{}, domain.ErrSessionNotReady
	}
	if err := domain.ValidateTargetTemperature(temperature); err != nil {
		return Change{}, err
	}
	frame, err := sbprotocol.SetTemperatureFrame(temperature)
	if err != nil {
		return Change{}, err
	}
	var change Change
	if m.target != nil {
		change.Superseded = supersede(m.failTarget("superseded by " + strconv.Itoa(temperature)))
	}
	m.seq++
	m.target = &pendingChange[int]{Requested: temperature, CyclesLeft: m.VerifyCycles, seq: m.seq}
	change.Seq = m.seq
	change.Frames = [][]byte{frame}
	return change, nil
}

// WriteSucceeded starts verification of the pending change seq of entity. It
// reports false when that change is no longer pending.
func (m *ModeMachine) WriteSucceeded(entity string, seq uint64) bool {
	switch entity {
	case domain.ENTITY_ID_MODE:
		return m.mode.acknowledge(seq)
	case domain.ENTITY_ID_THERMOSTAT:
		return m.target.acknowledge(seq)
	}
	return false
}

// WriteFailed rolls back the pending change seq of entity.
func (m *ModeMachine) WriteFailed(entity string, seq uint64, err error) (Outcome, bool) {
	switch entity {
	case domain.ENTITY_ID_MODE:
		if m.mode != nil && m.mode.seq == seq {
			return m.failMode(err.Error()), true
		}
	case domain.ENTITY_ID_THERMOSTAT:
		if m.target != nil && m.target.seq == seq {
			return m.failTarget(err.Error()), true
		}
	}
	return Outcome{}, false
}

// Observe applies a state read. The read always becomes the confirmed value.
func (m *ModeMachine) Observe(state sbprotocol.StateTelemetry) []Outcome {
	m.state = state
	m.hasState = true

	var outcomes []Outcome
	if m.mode != nil {
		switch m.mode.observe(m.confirmedMode()) {
		case verifyConfirmed:
			outcomes = append(outcomes, Outcome{Entity: domain.ENTITY_ID_MODE, Requested: m.mode.Requested, Applied: true})
			m.mode = nil
		case verifyExpired:
			outcomes = append(outcomes, m.failMode(m.expiredReason()))
		}
	}
	if m.target != nil {
		switch m.target.observe(state.TargetTemperature) {
		case verifyConfirmed:
			outcomes = append(outcomes, Outcome{Entity: domain.ENTITY_ID_THERMOSTAT, Requested: strconv.Itoa(m.target.Requested), Applied: true})
			m.target = nil
		case verifyExpired:
			outcomes = append(outcomes, m.failTarget(m.expiredReason()))
		}
	}
	return outcomes
}

// DisplayedMode is the pending mode if any, else the last confirmed one.
func (m *ModeMachine) DisplayedMode() (string, bool) {
	if m.mode != nil {
		return m.mode.Requested, true
	}
	if !m.hasState {
		return "", false
	}
	return m.confirmedMode(), true
}

func (m *ModeMachine) Pending(entity string) bool {
	switch entity {
	case domain.ENTITY_ID_MODE:
		return m.mode != nil
	case domain.ENTITY_ID_THERMOSTAT:
		return m.target != nil
	}
	return false
}

// Thermostat derives the climate entity from the last read and the pending
// target temperature.
func (m *ModeMachine) Thermostat() (domain.ThermostatState, bool) {
	if !m.hasState {
		return domain.ThermostatState{}, false
	}
	ts := domain.ThermostatState{
		Mode:    domain.THERMOSTAT_MODE_HEAT,
		Target:  m.state.TargetTemperature,
		Current: m.state.Temperature1,
	}
	if m.CurrentSensor == domain.ENTITY_ID_TEMP2 {
		ts.Current = m.state.Temperature2
	}
	if m.target != nil {
		ts.Target = m.target.Requested
	}
	switch {
	case m.Generation.OffMode != "" && m.confirmedMode() == m.Generation.OffMode:
		ts.Mode = domain.THERMOSTAT_MODE_OFF
		ts.Action = domain.THERMOSTAT_ACTION_OFF
	case m.state.HeatOn:
		ts.Action = domain.THERMOSTAT_ACTION_HEATING
	default:
		ts.Action = domain.THERMOSTAT_ACTION_IDLE
	}
	return ts, true
}

func (m *ModeMachine) confirmedMode() string {
	if name, ok := m.Generation.ModeName(m.state.Mode); ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", m.state.Mode)
}

func (m *ModeMachine) expiredReason() string {
	return fmt.Sprintf("not confirmed after %d reads", m.VerifyCycles)
}

func (m *ModeMachine) failMode(reason string) Outcome {
	requested := m.mode.Requested
	m.mode = nil
	return Outcome{
		Entity:    domain.ENTITY_ID_MODE,
		Requested: requested,
		Failure:   &domain.VerificationFailure{Entity: domain.ENTITY_ID_MODE, Requested: requested, Reason: reason},
	}
}

func (m *ModeMachine) failTarget(reason string) Outcome {
	requested := strconv.Itoa(m.target.Requested)
	m.target = nil
	return Outcome{
		Entity:    domain.ENTITY_ID_THERMOSTAT,
		Requested: requested,
		Failure:   &domain.VerificationFailure{Entity: domain.ENTITY_ID_THERMOSTAT, Requested: requested, Reason: reason},
	}
}

func supersede(o Outcome) *Outcome {
	o.Superseded = true
	return &o
}
