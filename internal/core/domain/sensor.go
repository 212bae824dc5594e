package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/carlmjohnson/versioninfo"
)

const (
	ENTITY_ID_BRIDGE_STATE       = "bridge"
	ENTITY_ID_TEMP1              = "temp1"
	ENTITY_ID_TEMP2              = "temp2"
	ENTITY_ID_HDO_LOW_TARIFF     = "hdo_low_tariff"
	ENTITY_ID_HEAT_ON            = "heat_on"
	ENTITY_ID_HDO_ENABLED        = "hdo_enabled"
	ENTITY_ID_MODE               = "mode"
	ENTITY_ID_THERMOSTAT         = "thermostat"
	ENTITY_ID_PIN                = "pin"
	ENTITY_ID_STATE              = "state"
	ENTITY_ID_BOILER_ONLINE      = "boiler_online"
	ENTITY_ID_VERSION            = "version"
	ENTITY_ID_BOARD_REV          = "board_rev"
	ENTITY_ID_SERIAL             = "serial"
	ENTITY_ID_NAME               = "name"
	ENTITY_ID_MODEL              = "model"
	ENTITY_ID_CAPACITY           = "capacity"
	ENTITY_ID_HDO_INFO           = "hdo_info"
	ENTITY_ID_LAST_HDO_TIME      = "last_hdo_time"
	ENTITY_ID_TIME               = "time"
	ENTITY_ID_CONSUMPTION        = "consumption"
	ENTITY_ID_MODE_RESULT        = "mode_result"
	ENTITY_ID_THERMOSTAT_RESULT  = "thermostat_result"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_HEAT            = "heat"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
	INPUT_NUMBER_MODE_SLIDER     = "slider"
)

type EntityKind int

const (
	EntityFloat EntityKind = iota
	EntityBinary
	EntityText
	EntitySelect
	EntityClimate
	EntityNumber
)

type EntityDescriptor struct {
	Id   string
	Kind EntityKind
}

// Entities lists every entity the controller can emit. The bridge state is
// MQTT-only and not part of it.
var Entities = []EntityDescriptor{
	{ENTITY_ID_TEMP1, EntityFloat},
	{ENTITY_ID_TEMP2, EntityFloat},
	{ENTITY_ID_HDO_LOW_TARIFF, EntityBinary},
	{ENTITY_ID_HEAT_ON, EntityBinary},
	{ENTITY_ID_HDO_ENABLED, EntityBinary},
	{ENTITY_ID_MODE, EntitySelect},
	{ENTITY_ID_THERMOSTAT, EntityClimate},
	{ENTITY_ID_PIN, EntityNumber},
	{ENTITY_ID_STATE, EntityText},
	{ENTITY_ID_BOILER_ONLINE, EntityBinary},
	{ENTITY_ID_VERSION, EntityText},
	{ENTITY_ID_BOARD_REV, EntityText},
	{ENTITY_ID_SERIAL, EntityText},
	{ENTITY_ID_NAME, EntityText},
	{ENTITY_ID_MODEL, EntityText},
	{ENTITY_ID_CAPACITY, EntityText},
	{ENTITY_ID_HDO_INFO, EntityText},
	{ENTITY_ID_LAST_HDO_TIME, EntityText},
	{ENTITY_ID_TIME, EntityText},
	{ENTITY_ID_CONSUMPTION, EntityFloat},
	{ENTITY_ID_MODE_RESULT, EntityText},
	{ENTITY_ID_THERMOSTAT_RESULT, EntityText},
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("smartboiler_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "smartboiler2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Smartboiler bridge %s", md5HashShort(baseTopic)),
	}
}

// BoilerDevice identifies the boiler by its BLE address. info may be nil
// before the first session.
func BoilerDevice(address string, info *sbprotocol.DeviceInfo) Device {
	dev := Device{
		Id:           fmt.Sprintf("smartboiler_%s", md5HashShort(address)),
		Manufacturer: "Dražice",
		Model:        "Smart boiler",
		Name:         fmt.Sprintf("Smartboiler %s", md5HashShort(address)),
	}
	if info != nil {
		if info.Model != "" {
			dev.Model = info.Model
		}
		if info.Name != "" {
			dev.Name = info.Name
		}
		dev.Version = info.FirmwareVersion
	}
	return dev
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             ENTITY_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, ENTITY_ID_BRIDGE_STATE),
	}}
}

func BoilerSensors(dev Device, enabled func(string) bool) []GenericSensor {
	var sensors []GenericSensor

	temperature := func(id, name string) GenericSensor {
		return GenericSensor{
			Device:            dev,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_TEMPERATURE,
			UnitOfMeasurement: "°C",
			UniqueId:          uniqueId(dev.Id, id),
		}
	}
	binary := func(id, name, deviceClass, icon string) GenericSensor {
		return GenericSensor{
			Device:      dev,
			Id:          id,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        name,
			DeviceClass: deviceClass,
			Icon:        icon,
			UniqueId:    uniqueId(dev.Id, id),
		}
	}
	text := func(id, name, icon string) GenericSensor {
		return GenericSensor{
			Device:         dev,
			Id:             id,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           name,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			Icon:           icon,
			UniqueId:       uniqueId(dev.Id, id),
		}
	}

	sensors = append(sensors,
		temperature(ENTITY_ID_TEMP1, "Temperature 1"),
		temperature(ENTITY_ID_TEMP2, "Temperature 2"),
		GenericSensor{
			Device:            dev,
			Id:                ENTITY_ID_CONSUMPTION,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Consumption",
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			UnitOfMeasurement: "kWh",
			UniqueId:          uniqueId(dev.Id, ENTITY_ID_CONSUMPTION),
		},
		binary(ENTITY_ID_HEAT_ON, "Heating", DEVICE_CLASS_HEAT, ""),
		binary(ENTITY_ID_HDO_LOW_TARIFF, "HDO low tariff", "", "mdi:transmission-tower"),
		binary(ENTITY_ID_HDO_ENABLED, "HDO enabled", "", "mdi:transmission-tower-export"),
		binary(ENTITY_ID_BOILER_ONLINE, "Online", DEVICE_CLASS_CONNECTIVITY, ""),
		text(ENTITY_ID_STATE, "State", "mdi:bluetooth-connect"),
		text(ENTITY_ID_VERSION, "Firmware version", "mdi:chip"),
		text(ENTITY_ID_BOARD_REV, "Board revision", "mdi:chip"),
		text(ENTITY_ID_SERIAL, "Serial number", "mdi:identifier"),
		text(ENTITY_ID_NAME, "Name", "mdi:tag"),
		text(ENTITY_ID_MODEL, "Model", "mdi:water-boiler"),
		text(ENTITY_ID_CAPACITY, "Capacity", "mdi:cup-water"),
		text(ENTITY_ID_HDO_INFO, "HDO info", "mdi:information"),
		text(ENTITY_ID_LAST_HDO_TIME, "Last HDO time", "mdi:clock"),
		text(ENTITY_ID_TIME, "Device time", "mdi:clock-outline"),
		text(ENTITY_ID_MODE_RESULT, "Mode change result", "mdi:check-circle"),
		text(ENTITY_ID_THERMOSTAT_RESULT, "Thermostat change result", "mdi:check-circle"),
	)

	var result []GenericSensor
	for i := range sensors {
		if enabled(sensors[i].Id) {
			result = append(result, sensors[i])
		}
	}
	return result
}

func BoilerSelects(dev Device, gen Generation, enabled func(string) bool) []GenericSelect {
	if !enabled(ENTITY_ID_MODE) {
		return nil
	}
	return []GenericSelect{{
		Device:   dev,
		Id:       ENTITY_ID_MODE,
		Name:     "Mode",
		Icon:     "mdi:water-boiler-auto",
		Options:  gen.Modes,
		UniqueId: uniqueId(dev.Id, ENTITY_ID_MODE),
	}}
}

func BoilerClimates(dev Device, enabled func(string) bool) []GenericClimate {
	if !enabled(ENTITY_ID_THERMOSTAT) {
		return nil
	}
	return []GenericClimate{{
		Device:   dev,
		Id:       ENTITY_ID_THERMOSTAT,
		Name:     "Thermostat",
		MinTemp:  sbprotocol.MinTargetTemperature,
		MaxTemp:  sbprotocol.MaxTargetTemperature,
		Step:     1,
		Modes:    []string{THERMOSTAT_MODE_HEAT, THERMOSTAT_MODE_OFF},
		UniqueId: uniqueId(dev.Id, ENTITY_ID_THERMOSTAT),
	}}
}

func BoilerInputNumbers(dev Device, gen Generation, enabled func(string) bool) []GenericInputNumber {
	if !gen.HasPin || !enabled(ENTITY_ID_PIN) {
		return nil
	}
	return []GenericInputNumber{{
		Device:         dev,
		Id:             ENTITY_ID_PIN,
		Name:           "Pairing PIN",
		Icon:           "mdi:form-textbox-password",
		Min:            sbprotocol.MinPin,
		Max:            sbprotocol.MaxPin,
		Step:           1,
		Mode:           INPUT_NUMBER_MODE_BOX,
		EntityCategory: ENTITY_CLASS_CONFIG,
		UniqueId:       uniqueId(dev.Id, ENTITY_ID_PIN),
	}}
}

func uniqueId(base string, id string) string {
	return fmt.Sprintf("uid_%s_%s", base, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:6]
}
