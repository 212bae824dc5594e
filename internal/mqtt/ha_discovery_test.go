package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "smartboiler"}}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestBinarySensorDiscovery(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	dev := domain.BoilerDevice("AA:BB:CC:DD:EE:FF", nil)
	var heatOn domain.GenericSensor
	for _, s := range domain.BoilerSensors(dev, func(string) bool { return true }) {
		if s.Id == domain.ENTITY_ID_HEAT_ON {
			heatOn = s
		}
	}

	msg := GenericSensorToHADiscoveryMessage(client, heatOn)
	assert.Equal("smartboiler/heat_on", msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal("smartboiler/bridge/state", msg.AvTopic)
	assert.Equal("homeassistant/binary_sensor/"+dev.Id+"/heat_on/config", HADiscoverySensorTopic(client, heatOn))
}

func TestClimateDiscovery(t *testing.T) {

	require := require.New(t)

	client := testClient()
	dev := domain.BoilerDevice("AA:BB:CC:DD:EE:FF", nil)
	climates := domain.BoilerClimates(dev, func(string) bool { return true })
	require.Len(climates, 1)

	payload, err := json.Marshal(GenericClimateToHADiscoveryMessage(client, climates[0]))
	require.NoError(err)

	var decoded map[string]any
	require.NoError(json.Unmarshal(payload, &decoded))
	require.Equal("smartboiler/thermostat/set", decoded["temperature_command_topic"])
	require.Equal("smartboiler/thermostat/current", decoded["current_temperature_topic"])
	require.Equal(74.0, decoded["max_temp"])
}

func TestSelectDiscovery(t *testing.T) {

	client := testClient()
	dev := domain.BoilerDevice("AA:BB:CC:DD:EE:FF", nil)
	selects := domain.BoilerSelects(dev, domain.GenerationB, func(string) bool { return true })
	require.Len(t, selects, 1)

	msg := GenericSelectToHADiscoveryMessage(client, selects[0])
	assert.Equal(t, "smartboiler/mode/set", msg.CommandTopic)
	assert.Contains(t, msg.Options, "SMARTHDO")
}

func TestDeviceClockDiscovery(t *testing.T) {

	client := testClient()
	dev := domain.BoilerDevice("AA:BB:CC:DD:EE:FF", nil)
	var clock *domain.GenericSensor
	for _, s := range domain.BoilerSensors(dev, func(string) bool { return true }) {
		s := s
		if s.Id == domain.ENTITY_ID_TIME {
			clock = &s
		}
	}
	require.NotNil(t, clock)

	msg := GenericSensorToHADiscoveryMessage(client, *clock)
	assert.Equal(t, "smartboiler/time", msg.StateTopic)
	assert.Equal(t, "homeassistant/sensor/"+dev.Id+"/time/config", HADiscoverySensorTopic(client, *clock))
}
