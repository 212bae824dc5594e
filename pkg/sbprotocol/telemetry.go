package sbprotocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Category uint8

const (
	CategoryState Category = iota
	CategoryConsumption
	CategoryInfo
)

var categoryPackets = map[Category][]Packet{
	CategoryState: {
		PacketMode,
		PacketHeatOn,
		PacketSensor1,
		PacketSensor2,
		PacketTemperature,
		PacketHdoLowTariff,
		PacketHdoEnabled,
	},
	CategoryConsumption: {
		PacketConsumptionStatsGetAll,
	},
	CategoryInfo: {
		PacketModel,
		PacketFwVersion,
		PacketName,
		PacketCapacity,
		PacketHdoInfo,
		PacketLastHdoTime,
		PacketTime,
	},
}

func (c Category) String() string {
	switch c {
	case CategoryState:
		return "state"
	case CategoryConsumption:
		return "consumption"
	case CategoryInfo:
		return "info"
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Packets lists the read requests that make up one sample of c.
func (c Category) Packets() []Packet {
	return categoryPackets[c]
}

// StateTelemetry is the fast-changing boiler state.
type StateTelemetry struct {
	Mode              uint8
	HeatOn            bool
	Temperature1      float64
	Temperature2      float64
	TargetTemperature int
	HdoLowTariff      bool
	HdoEnabled        bool
}

// ConsumptionTelemetry carries the device energy counter in Wh.
type ConsumptionTelemetry struct {
	RawWh uint32
}

type DeviceInfo struct {
	Model           string
	FirmwareVersion string
	BoardRevision   string
	Serial          string
	Name            string
	Capacity        string
	HdoInfo         string
	LastHdoTime     string
	Time            string
}

// Sample is an immutable snapshot of one category. Exactly one of State,
// Consumption and Info is set, matching Category.
type Sample struct {
	Category    Category
	State       *StateTelemetry
	Consumption *ConsumptionTelemetry
	Info        *DeviceInfo
}

// Decode turns the raw notifications collected for one category into a Sample.
// Every packet of the category must be present and valid, otherwise the whole
// sample is rejected with a *DecodeError.
func Decode(category Category, frames [][]byte) (Sample, error) {
	packets := category.Packets()
	if packets == nil {
		return Sample{}, &DecodeError{Reason: fmt.Sprintf("unknown category %d", category)}
	}

	responses := make(map[Packet]Response, len(frames))
	for _, raw := range frames {
		r, err := DecodeResponse(raw)
		if err != nil {
			return Sample{}, err
		}
		responses[r.Packet] = r
	}
	for _, p := range packets {
		if _, ok := responses[p.responsePacket()]; !ok {
			return Sample{}, &DecodeError{Packet: p, Reason: "missing from sample"}
		}
	}

	switch category {
	case CategoryState:
		state, err := decodeState(responses)
		if err != nil {
			return Sample{}, err
		}
		return Sample{Category: category, State: state}, nil
	case CategoryConsumption:
		r := responses[PacketUidResponse]
		if r.Uid != UidConsumption {
			return Sample{}, &DecodeError{Packet: PacketUidResponse, Reason: fmt.Sprintf("unexpected uid 0x%02x", r.Uid)}
		}
		return Sample{Category: category, Consumption: &ConsumptionTelemetry{RawWh: r.Value}}, nil
	default:
		info, err := decodeInfo(responses)
		if err != nil {
			return Sample{}, err
		}
		return Sample{Category: category, Info: info}, nil
	}
}

func decodeState(responses map[Packet]Response) (*StateTelemetry, error) {
	var state StateTelemetry
	var err error

	mode, err := parseUint8(responses[PacketMode])
	if err != nil {
		return nil, err
	}
	state.Mode = mode
	if state.HeatOn, err = parseFlag(responses[PacketHeatOn]); err != nil {
		return nil, err
	}
	if state.Temperature1, err = parseTemperature(responses[PacketSensor1]); err != nil {
		return nil, err
	}
	if state.Temperature2, err = parseTemperature(responses[PacketSensor2]); err != nil {
		return nil, err
	}
	target, err := parseUint8(responses[PacketTemperature])
	if err != nil {
		return nil, err
	}
	state.TargetTemperature = int(target)
	if state.HdoLowTariff, err = parseFlag(responses[PacketHdoLowTariff]); err != nil {
		return nil, err
	}
	if state.HdoEnabled, err = parseFlag(responses[PacketHdoEnabled]); err != nil {
		return nil, err
	}
	return &state, nil
}

func decodeInfo(responses map[Packet]Response) (*DeviceInfo, error) {
	fw := responses[PacketFwVersion]
	// firmware;board revision;serial number
	parts := strings.SplitN(fw.Arg, ";", 3)
	if len(parts) != 3 {
		return nil, &DecodeError{Packet: PacketFwVersion, Reason: fmt.Sprintf("bad firmware info %q", fw.Arg)}
	}
	return &DeviceInfo{
		Model:           responses[PacketModel].Arg,
		FirmwareVersion: parts[0],
		BoardRevision:   parts[1],
		Serial:          parts[2],
		Name:            responses[PacketName].Arg,
		Capacity:        responses[PacketCapacity].Arg,
		HdoInfo:         responses[PacketHdoInfo].Arg,
		LastHdoTime:     dropPrefix(responses[PacketLastHdoTime].Arg),
		Time:            dropPrefix(responses[PacketTime].Arg),
	}, nil
}

// Encode produces the notifications a device would send for s. Decode(Encode(s))
// returns s for every fixed-offset field.
func Encode(s Sample) [][]byte {
	var responses []Response
	switch {
	case s.State != nil:
		st := s.State
		responses = []Response{
			{Packet: PacketMode, Arg: strconv.Itoa(int(st.Mode))},
			{Packet: PacketHeatOn, Arg: formatFlag(st.HeatOn)},
			{Packet: PacketSensor1, Arg: strconv.FormatFloat(st.Temperature1, 'f', 1, 64)},
			{Packet: PacketSensor2, Arg: strconv.FormatFloat(st.Temperature2, 'f', 1, 64)},
			{Packet: PacketTemperature, Arg: strconv.Itoa(st.TargetTemperature)},
			{Packet: PacketHdoLowTariff, Arg: formatFlag(st.HdoLowTariff)},
			{Packet: PacketHdoEnabled, Arg: formatFlag(st.HdoEnabled)},
		}
	case s.Consumption != nil:
		responses = []Response{
			{Packet: PacketUidResponse, Uid: UidConsumption, Value: s.Consumption.RawWh},
		}
	case s.Info != nil:
		in := s.Info
		responses = []Response{
			{Packet: PacketModel, Arg: in.Model},
			{Packet: PacketFwVersion, Arg: strings.Join([]string{in.FirmwareVersion, in.BoardRevision, in.Serial}, ";")},
			{Packet: PacketName, Arg: in.Name},
			{Packet: PacketCapacity, Arg: in.Capacity},
			{Packet: PacketHdoInfo, Arg: in.HdoInfo},
			{Packet: PacketLastHdoTime, Arg: "00" + in.LastHdoTime},
			{Packet: PacketTime, Arg: "00" + in.Time},
		}
	}
	frames := make([][]byte, 0, len(responses))
	for _, r := range responses {
		frames = append(frames, EncodeResponse(r))
	}
	return frames
}

func parseUint8(r Response) (uint8, error) {
	v, err := strconv.ParseUint(r.Arg, 10, 8)
	if err != nil {
		return 0, &DecodeError{Packet: r.Packet, Reason: fmt.Sprintf("not an integer %q", r.Arg)}
	}
	return uint8(v), nil
}

func parseFlag(r Response) (bool, error) {
	v, err := strconv.Atoi(r.Arg)
	if err != nil {
		return false, &DecodeError{Packet: r.Packet, Reason: fmt.Sprintf("not a flag %q", r.Arg)}
	}
	return v != 0, nil
}

// parseTemperature keeps 0.1 C precision.
func parseTemperature(r Response) (float64, error) {
	v, err := strconv.ParseFloat(r.Arg, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &DecodeError{Packet: r.Packet, Reason: fmt.Sprintf("not a temperature %q", r.Arg)}
	}
	return math.Round(v*10) / 10, nil
}

func formatFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func dropPrefix(arg string) string {
	if len(arg) < 2 {
		return ""
	}
	return arg[2:]
}
