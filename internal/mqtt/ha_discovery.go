package mqtt

import (
	"fmt"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
	Options           []string          `json:"options,omitempty"`
}

type HAClimateDiscoveryConfig struct {
	Device                  HADiscoveryDevice `json:"device"`
	AvTopic                 string            `json:"availability_topic,omitempty"`
	Name                    string            `json:"name"`
	UniqueId                string            `json:"unique_id"`
	Platform                string            `json:"platform"`
	Icon                    string            `json:"icon,omitempty"`
	Modes                   []string          `json:"modes"`
	ModeStateTopic          string            `json:"mode_state_topic"`
	ActionTopic             string            `json:"action_topic"`
	CurrentTemperatureTopic string            `json:"current_temperature_topic"`
	TemperatureStateTopic   string            `json:"temperature_state_topic"`
	TemperatureCommandTopic string            `json:"temperature_command_topic"`
	MinTemp                 float64           `json:"min_temp"`
	MaxTemp                 float64           `json:"max_temp"`
	TempStep                float64           `json:"temp_step"`
	TemperatureUnit         string            `json:"temperature_unit"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func discoveryTopic(prefix, component string, device domain.Device, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, device.Id, id)
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return discoveryTopic(client.DiscoveryPrefix(), sensor.SensorType, sensor.Device, sensor.Id)
}

func HADiscoverySelectTopic(client *MQTTClient, sel domain.GenericSelect) string {
	return discoveryTopic(client.DiscoveryPrefix(), "select", sel.Device, sel.Id)
}

func HADiscoveryClimateTopic(client *MQTTClient, climate domain.GenericClimate) string {
	return discoveryTopic(client.DiscoveryPrefix(), "climate", climate.Device, climate.Id)
}

func HADiscoveryInputNumberTopic(client *MQTTClient, inputNumber domain.GenericInputNumber) string {
	return discoveryTopic(client.DiscoveryPrefix(), "number", inputNumber.Device, inputNumber.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	topic := client.StateTopic(sensor.Id)
	if sensor.Id == domain.ENTITY_ID_BRIDGE_STATE {
		topic = client.BridgeStateTopic()
	}
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.Id == domain.ENTITY_ID_BRIDGE_STATE {
		disConfig.AvTopic = ""
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func GenericSelectToHADiscoveryMessage(client *MQTTClient, sel domain.GenericSelect) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:       device(sel.Device),
		StateTopic:   client.StateTopic(sel.Id),
		CommandTopic: client.CommandTopic(sel.Id),
		AvTopic:      client.BridgeStateTopic(),
		Name:         sel.Name,
		UniqueId:     sel.UniqueId,
		Icon:         sel.Icon,
		Platform:     "mqtt",
		Options:      sel.Options,
	}
}

func GenericClimateToHADiscoveryMessage(client *MQTTClient, climate domain.GenericClimate) HAClimateDiscoveryConfig {
	return HAClimateDiscoveryConfig{
		Device:                  device(climate.Device),
		AvTopic:                 client.BridgeStateTopic(),
		Name:                    climate.Name,
		UniqueId:                climate.UniqueId,
		Icon:                    climate.Icon,
		Platform:                "mqtt",
		Modes:                   climate.Modes,
		ModeStateTopic:          client.ClimateStateTopic(climate.Id, CLIMATE_TOPIC_MODE),
		ActionTopic:             client.ClimateStateTopic(climate.Id, CLIMATE_TOPIC_ACTION),
		CurrentTemperatureTopic: client.ClimateStateTopic(climate.Id, CLIMATE_TOPIC_CURRENT),
		TemperatureStateTopic:   client.ClimateStateTopic(climate.Id, CLIMATE_TOPIC_TARGET),
		TemperatureCommandTopic: client.CommandTopic(climate.Id),
		MinTemp:                 climate.MinTemp,
		MaxTemp:                 climate.MaxTemp,
		TempStep:                climate.Step,
		TemperatureUnit:         "C",
	}
}

func GenericInputNumberToHADiscoveryMessage(client *MQTTClient, inputNumber domain.GenericInputNumber) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:         device(inputNumber.Device),
		StateTopic:     client.StateTopic(inputNumber.Id),
		CommandTopic:   client.CommandTopic(inputNumber.Id),
		AvTopic:        client.BridgeStateTopic(),
		EntityCategory: inputNumber.EntityCategory,
		Name:           inputNumber.Name,
		UniqueId:       inputNumber.UniqueId,
		Icon:           inputNumber.Icon,
		Platform:       "mqtt",
		Min:            inputNumber.Min,
		Max:            inputNumber.Max,
		Step:           inputNumber.Step,
		Mode:           inputNumber.Mode,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
