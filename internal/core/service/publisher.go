package service

import (
	"math"
	"sync"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
)

// Publisher pushes entity values to the sinks registered for them and keeps
// the last value of each entity so callers can publish only on change.
type Publisher struct {
	Enabled func(id string) bool

	mu       sync.Mutex
	floats   map[string][]port.Sink[float64]
	binaries map[string][]port.Sink[bool]
	texts    map[string][]port.Sink[string]
	selects  map[string][]port.Sink[string]
	climates map[string][]port.Sink[domain.ThermostatState]
	numbers  map[string][]port.Sink[float64]
	last     map[string]any
}

func NewPublisher(enabled func(id string) bool) *Publisher {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Publisher{
		Enabled:  enabled,
		floats:   map[string][]port.Sink[float64]{},
		binaries: map[string][]port.Sink[bool]{},
		texts:    map[string][]port.Sink[string]{},
		selects:  map[string][]port.Sink[string]{},
		climates: map[string][]port.Sink[domain.ThermostatState]{},
		numbers:  map[string][]port.Sink[float64]{},
		last:     map[string]any{},
	}
}

func (p *Publisher) RegisterFloat(id string, sink port.Sink[float64]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.floats[id] = append(p.floats[id], sink)
}

func (p *Publisher) RegisterBinary(id string, sink port.Sink[bool]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.binaries[id] = append(p.binaries[id], sink)
}

func (p *Publisher) RegisterText(id string, sink port.Sink[string]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[id] = append(p.texts[id], sink)
}

func (p *Publisher) RegisterSelect(id string, sink port.Sink[string]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selects[id] = append(p.selects[id], sink)
}

func (p *Publisher) RegisterClimate(id string, sink port.Sink[domain.ThermostatState]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.climates[id] = append(p.climates[id], sink)
}

func (p *Publisher) RegisterNumber(id string, sink port.Sink[float64]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numbers[id] = append(p.numbers[id], sink)
}

// Publish pushes the value of event to its sinks. It returns false for
// disabled entities and for values equal to the last published one.
func (p *Publisher) Publish(event domain.SensorUpdateEvent) bool {
	id := event.SensorId()
	if !p.Enabled(id) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var value any
	switch e := event.(type) {
	case domain.FloatSensorUpdateEvent:
		v := round(e.Value, e.Decimals)
		value = v
		push(p.floats[id], v)
	case domain.BinarySensorUpdateEvent:
		value = e.Value
		push(p.binaries[id], e.Value)
	case domain.TextSensorUpdateEvent:
		value = e.Value
		push(p.texts[id], e.Value)
	case domain.SelectUpdateEvent:
		value = e.Value
		push(p.selects[id], e.Value)
	case domain.ClimateUpdateEvent:
		value = e.Value
		push(p.climates[id], e.Value)
	case domain.InputNumberSensorUpdateEvent:
		v := round(e.Value, e.Decimals)
		value = v
		push(p.numbers[id], v)
	default:
		return true
	}

	last, seen := p.last[id]
	p.last[id] = value
	return !seen || last != value
}

func push[T any](sinks []port.Sink[T], value T) {
	for _, s := range sinks {
		s.Receive(value)
	}
}

func round(value float64, decimals uint) float64 {
	scale := math.Pow10(int(decimals))
	return math.Round(value*scale) / scale
}
