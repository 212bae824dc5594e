package entity

import (
	"sort"
	"sync"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
)

// Value is the last value pushed to one entity.
type Value struct {
	Id        string            `json:"id"`
	Kind      domain.EntityKind `json:"-"`
	Value     any               `json:"value"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is an in-memory presentation sink holding the latest value of every
// entity. The HTTP API reads it.
type Store struct {
	mu     sync.RWMutex
	values map[string]Value
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		values: map[string]Value{},
		now:    time.Now,
	}
}

func (s *Store) set(id string, kind domain.EntityKind, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = Value{Id: id, Kind: kind, Value: value, UpdatedAt: s.now()}
}

func (s *Store) Float(id string) port.Sink[float64] {
	return port.SinkFunc[float64](func(v float64) { s.set(id, domain.EntityFloat, v) })
}

func (s *Store) Binary(id string) port.Sink[bool] {
	return port.SinkFunc[bool](func(v bool) { s.set(id, domain.EntityBinary, v) })
}

func (s *Store) Text(id string) port.Sink[string] {
	return port.SinkFunc[string](func(v string) { s.set(id, domain.EntityText, v) })
}

func (s *Store) Select(id string) port.Sink[string] {
	return port.SinkFunc[string](func(v string) { s.set(id, domain.EntitySelect, v) })
}

func (s *Store) Climate(id string) port.Sink[domain.ThermostatState] {
	return port.SinkFunc[domain.ThermostatState](func(v domain.ThermostatState) {
		s.set(id, domain.EntityClimate, map[string]any{
			"mode":    v.Mode,
			"action":  v.Action,
			"target":  v.Target,
			"current": v.Current,
		})
	})
}

func (s *Store) Number(id string) port.Sink[float64] {
	return port.SinkFunc[float64](func(v float64) { s.set(id, domain.EntityNumber, v) })
}

func (s *Store) Get(id string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

// Snapshot returns all known values ordered by id.
func (s *Store) Snapshot() []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Registrar is implemented by *service.Publisher.
type Registrar interface {
	RegisterFloat(id string, sink port.Sink[float64])
	RegisterBinary(id string, sink port.Sink[bool])
	RegisterText(id string, sink port.Sink[string])
	RegisterSelect(id string, sink port.Sink[string])
	RegisterClimate(id string, sink port.Sink[domain.ThermostatState])
	RegisterNumber(id string, sink port.Sink[float64])
}

// Attach registers the store as a sink of every entity.
func (s *Store) Attach(r Registrar) {
	for _, e := range domain.Entities {
		switch e.Kind {
		case domain.EntityFloat:
			r.RegisterFloat(e.Id, s.Float(e.Id))
		case domain.EntityBinary:
			r.RegisterBinary(e.Id, s.Binary(e.Id))
		case domain.EntityText:
			r.RegisterText(e.Id, s.Text(e.Id))
		case domain.EntitySelect:
			r.RegisterSelect(e.Id, s.Select(e.Id))
		case domain.EntityClimate:
			r.RegisterClimate(e.Id, s.Climate(e.Id))
		case domain.EntityNumber:
			r.RegisterNumber(e.Id, s.Number(e.Id))
		}
	}
}
