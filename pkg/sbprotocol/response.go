package sbprotocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const uidResponseSize = 8

// Response is one decoded notification. Text answers carry Arg, UID answers
// carry Uid and Value.
type Response struct {
	Packet Packet
	Arg    string
	Uid    uint8
	Value  uint32
}

// PeekPacket reads the packet id from the first two ASCII digits.
func PeekPacket(raw []byte) (Packet, error) {
	if len(raw) < 2 {
		return 0, &DecodeError{Reason: fmt.Sprintf("frame too short (%d bytes)", len(raw))}
	}
	if !isDigit(raw[0]) || !isDigit(raw[1]) {
		return 0, &DecodeError{Reason: fmt.Sprintf("invalid packet id %q", raw[:2])}
	}
	return Packet((raw[0]-'0')*10 + (raw[1] - '0')), nil
}

func DecodeResponse(raw []byte) (Response, error) {
	p, err := PeekPacket(raw)
	if err != nil {
		return Response{}, err
	}
	if p == PacketUidResponse {
		if len(raw) < uidResponseSize {
			return Response{}, &DecodeError{Packet: p, Reason: fmt.Sprintf("uid response too short (%d bytes)", len(raw))}
		}
		return Response{
			Packet: p,
			Uid:    raw[2],
			Value:  binary.LittleEndian.Uint32(raw[4:8]),
		}, nil
	}
	return Response{
		Packet: p,
		Arg:    strings.TrimRight(string(raw[2:]), "\x00 "),
	}, nil
}

// EncodeResponse produces the bytes a device sends for r.
func EncodeResponse(r Response) []byte {
	id := []byte(fmt.Sprintf("%02d", uint8(r.Packet)))
	if r.Packet == PacketUidResponse {
		raw := make([]byte, uidResponseSize)
		copy(raw, id)
		raw[2] = r.Uid
		binary.LittleEndian.PutUint32(raw[4:8], r.Value)
		return raw
	}
	return append(id, []byte(r.Arg)...)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
