package sbprotocol

import (
	"fmt"
)

const (
	RequestFrameSize   = 8
	HandshakeFrameSize = 20

	MinPin = 1111
	MaxPin = 9999
)

var handshakePrefix = []byte{0x44, 0x00, 0x00, 0x00, 0x74, 0x39, 0x70, 0x61, 0x71, 0x6f}

// RequestFrame builds the 8-byte frame [packet, 0, uid, 0, value, 0, 0, 0].
func RequestFrame(p Packet, uid uint8, value uint8) []byte {
	frame := make([]byte, RequestFrameSize)
	frame[0] = byte(p)
	frame[2] = uid
	frame[4] = value
	return frame
}

// ReadFrame requests the current value of p.
func ReadFrame(p Packet) []byte {
	if p == PacketConsumptionStatsGetAll {
		return RequestFrame(p, UidConsumption, 0)
	}
	return RequestFrame(p, 0, 0)
}

func SetModeFrame(code uint8) []byte {
	return RequestFrame(PacketSetMode, 0, code)
}

func SetTemperatureFrame(temperature int) ([]byte, error) {
	if temperature < MinTargetTemperature || temperature > MaxTargetTemperature {
		return nil, fmt.Errorf("target temperature %d out of range [%d, %d]", temperature, MinTargetTemperature, MaxTargetTemperature)
	}
	return RequestFrame(PacketSetNormalTemperature, 0, uint8(temperature)), nil
}

func SetHdoEnabledFrame(enabled bool) []byte {
	var v uint8
	if enabled {
		v = 1
	}
	return RequestFrame(PacketSetHdoEnabled, 0, v)
}

// HandshakeFrame is the first frame a client must write after subscribing to
// notifications. A non-zero pin is written as four ASCII digits at bytes 10..13.
func HandshakeFrame(pin uint16) ([]byte, error) {
	frame := make([]byte, HandshakeFrameSize)
	copy(frame, handshakePrefix)
	if pin == 0 {
		return frame, nil
	}
	if pin < MinPin || pin > MaxPin {
		return nil, fmt.Errorf("pin %d out of range [%d, %d]", pin, MinPin, MaxPin)
	}
	copy(frame[len(handshakePrefix):], fmt.Sprintf("%04d", pin))
	return frame, nil
}

// HandshakePin extracts the pin carried by a handshake frame, 0 if none.
func HandshakePin(frame []byte) (uint16, bool) {
	if len(frame) != HandshakeFrameSize || frame[0] != handshakePrefix[0] {
		return 0, false
	}
	digits := frame[len(handshakePrefix) : len(handshakePrefix)+4]
	if digits[0] == 0 {
		return 0, true
	}
	var pin uint16
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, false
		}
		pin = pin*10 + uint16(d-'0')
	}
	return pin, true
}
