// Package sbprotocol implements the smartboiler BLE characteristic protocol:
// request frames, notification decoding, per-category telemetry samples and a
// client that runs one transaction at a time over a Link.
package sbprotocol

import "fmt"

type Packet uint8

const (
	PacketModel                  Packet = 0x02
	PacketFwVersion              Packet = 0x03
	PacketMode                   Packet = 0x04
	PacketHeatOn                 Packet = 0x06
	PacketSensor1                Packet = 0x07
	PacketSensor2                Packet = 0x08
	PacketTemperature            Packet = 0x09
	PacketTime                   Packet = 0x0b
	PacketSetNormalTemperature   Packet = 0x0e
	PacketSetMode                Packet = 0x12
	PacketHdoEnabled             Packet = 0x14
	PacketSetHdoEnabled          Packet = 0x1b
	PacketLastHdoTime            Packet = 0x20
	PacketHdoLowTariff           Packet = 0x21
	PacketHdoInfo                Packet = 0x22
	PacketUidResponse            Packet = 0x33
	PacketRequestError           Packet = 0x34
	PacketCapacity               Packet = 0x3a
	PacketName                   Packet = 0x50
	PacketConsumptionStatsGetAll Packet = 0x5d
)

// UidConsumption tags ConsumptionStatsGetAll requests; the device echoes it in
// the UID response.
const UidConsumption uint8 = 0xcc

const (
	MinTargetTemperature = 5
	MaxTargetTemperature = 74
)

var packetNames = map[Packet]string{
	PacketModel:                  "Model",
	PacketFwVersion:              "FwVersion",
	PacketMode:                   "Mode",
	PacketHeatOn:                 "HeatOn",
	PacketSensor1:                "Sensor1",
	PacketSensor2:                "Sensor2",
	PacketTemperature:            "Temperature",
	PacketTime:                   "Time",
	PacketSetNormalTemperature:   "SetNormalTemperature",
	PacketSetMode:                "SetMode",
	PacketHdoEnabled:             "HdoEnabled",
	PacketSetHdoEnabled:          "SetHdoEnabled",
	PacketLastHdoTime:            "LastHdoTime",
	PacketHdoLowTariff:           "HdoLowTariff",
	PacketHdoInfo:                "HdoInfo",
	PacketUidResponse:            "UidResponse",
	PacketRequestError:           "RequestError",
	PacketCapacity:               "Capacity",
	PacketName:                   "Name",
	PacketConsumptionStatsGetAll: "ConsumptionStatsGetAll",
}

func (p Packet) String() string {
	if name, ok := packetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Packet(0x%02x)", uint8(p))
}

// responsePacket returns the packet id a device answer to p is tagged with.
func (p Packet) responsePacket() Packet {
	if p == PacketConsumptionStatsGetAll {
		return PacketUidResponse
	}
	return p
}
