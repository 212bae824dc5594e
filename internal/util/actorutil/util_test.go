package actorutil

import (
	"testing"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThermostatCommandRoundsToWholeDegrees(t *testing.T) {

	tests := []struct {
		payload  string
		expected int
	}{
		{"60", 60},
		{"60.0", 60},
		{"59.6", 60},
		{"60.4", 60},
		{"60.5", 61},
		{" 55.2 ", 55},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: domain.ENTITY_ID_THERMOSTAT, Payload: tt.payload})
			require.NoError(t, err)
			assert.Equal(t, domain.SetTargetTemperatureRequest{Temperature: tt.expected}, req)
		})
	}
}

func TestThermostatCommandRejectsNonNumbers(t *testing.T) {

	for _, payload := range []string{"warm", "NaN", "+Inf", ""} {
		_, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: domain.ENTITY_ID_THERMOSTAT, Payload: payload})
		assert.ErrorIs(t, err, domain.ErrInvalidTemperature, payload)
	}
}

func TestCommandMapping(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: domain.ENTITY_ID_MODE, Payload: "smart"})
	require.NoError(t, err)
	assert.Equal(t, domain.SetModeRequest{Mode: "SMART"}, req)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: domain.ENTITY_ID_HDO_ENABLED, Payload: "on"})
	require.NoError(t, err)
	assert.Equal(t, domain.SetHdoEnabledRequest{Enabled: true}, req)

	_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "bogus", Payload: "1"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
