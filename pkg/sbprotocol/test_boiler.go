package sbprotocol

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// TestBoiler is an in-memory Link simulating a boiler. Answers are delivered
// asynchronously like real notifications.
type TestBoiler struct {
	mu sync.Mutex

	State         StateTelemetry
	Info          DeviceInfo
	ConsumptionWh uint32
	// Pin the device expects in the handshake, 0 accepts any.
	Pin uint16
	// Silent drops every frame without answering.
	Silent bool
	// IgnoreSettings accepts set frames without applying them.
	IgnoreSettings bool
	// RejectSettings answers set frames with RequestError.
	RejectSettings bool
	FailOpen       error

	handler       *LinkHandler
	authenticated bool
	writes        [][]byte
	opens         int
}

func NewTestBoiler() *TestBoiler {
	return &TestBoiler{
		State: StateTelemetry{
			Mode:              1,
			HeatOn:            true,
			Temperature1:      48.5,
			Temperature2:      52.1,
			TargetTemperature: 60,
			HdoLowTariff:      true,
			HdoEnabled:        false,
		},
		Info: DeviceInfo{
			Model:           "OKHE 80 SMART",
			FirmwareVersion: "1.0.11",
			BoardRevision:   "3",
			Serial:          "5a01b2",
			Name:            "Bathroom",
			Capacity:        "80",
			HdoInfo:         "1",
			LastHdoTime:     "1.22:05",
			Time:            "3.10:41",
		},
		ConsumptionWh: 125000,
	}
}

func (b *TestBoiler) Open(_ context.Context, handler LinkHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.FailOpen != nil {
		return b.FailOpen
	}
	b.handler = &handler
	b.authenticated = false
	return nil
}

func (b *TestBoiler) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
	b.authenticated = false
	return nil
}

func (b *TestBoiler) Write(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler == nil {
		return ErrNotConnected
	}
	b.writes = append(b.writes, append([]byte(nil), frame...))
	if b.Silent {
		return nil
	}

	if pin, ok := HandshakePin(frame); ok {
		b.authenticated = b.Pin == 0 || pin == b.Pin
		if !b.authenticated {
			b.notify(EncodeResponse(Response{Packet: PacketRequestError}))
		}
		return nil
	}
	if !b.authenticated || len(frame) != RequestFrameSize {
		b.notify(EncodeResponse(Response{Packet: PacketRequestError}))
		return nil
	}

	p := Packet(frame[0])
	switch p {
	case PacketSetMode, PacketSetNormalTemperature, PacketSetHdoEnabled:
		b.applySetting(p, frame[4])
		return nil
	}
	if raw := b.responseFor(p); raw != nil {
		b.notify(raw)
	} else {
		b.notify(EncodeResponse(Response{Packet: PacketRequestError}))
	}
	return nil
}

func (b *TestBoiler) applySetting(p Packet, value uint8) {
	if b.RejectSettings {
		b.notify(EncodeResponse(Response{Packet: PacketRequestError}))
		return
	}
	if b.IgnoreSettings {
		return
	}
	switch p {
	case PacketSetMode:
		b.State.Mode = value
	case PacketSetNormalTemperature:
		b.State.TargetTemperature = int(value)
	case PacketSetHdoEnabled:
		b.State.HdoEnabled = value != 0
	}
}

func (b *TestBoiler) responseFor(p Packet) []byte {
	var sample Sample
	switch {
	case p == PacketConsumptionStatsGetAll:
		sample = Sample{Consumption: &ConsumptionTelemetry{RawWh: b.ConsumptionWh}}
	case slices.Contains(CategoryState.Packets(), p):
		st := b.State
		sample = Sample{State: &st}
	case slices.Contains(CategoryInfo.Packets(), p):
		info := b.Info
		sample = Sample{Info: &info}
	default:
		return nil
	}
	for _, raw := range Encode(sample) {
		if got, err := PeekPacket(raw); err == nil && got == p.responsePacket() {
			return raw
		}
	}
	return nil
}

// notify must be called with b.mu held.
func (b *TestBoiler) notify(raw []byte) {
	handler := b.handler
	go handler.OnNotify(raw)
}

// Disconnect simulates the peer dropping the link.
func (b *TestBoiler) Disconnect() {
	b.mu.Lock()
	handler := b.handler
	b.handler = nil
	b.authenticated = false
	b.mu.Unlock()
	if handler != nil && handler.OnDisconnect != nil {
		handler.OnDisconnect(errors.New("peer disconnected"))
	}
}

func (b *TestBoiler) Update(fn func(b *TestBoiler)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *TestBoiler) CurrentState() StateTelemetry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.State
}

func (b *TestBoiler) Writes() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.writes...)
}

func (b *TestBoiler) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}
