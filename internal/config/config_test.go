package config

import (
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("SmartBoiler_1")
	assert.NoError(err)
	assert.Equal("smartboiler_1", topic)

	_, err = CheckMQTTTopic("smart/boiler")
	assert.Error(err)

	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestEntitiesEnabled(t *testing.T) {

	assert := assert.New(t)

	entities := EntitiesConfig{"pin": false, "temp1": true}
	assert.False(entities.Enabled("pin"))
	assert.True(entities.Enabled("temp1"))
	assert.True(entities.Enabled("consumption"))

	var empty EntitiesConfig
	assert.True(empty.Enabled("temp2"))
}

func TestCheckCurrentSensor(t *testing.T) {

	sensor, err := CheckCurrentSensor("TEMP1")
	assert.NoError(t, err)
	assert.Equal(t, "temp1", sensor)

	sensor, err = CheckCurrentSensor("")
	assert.NoError(t, err)
	assert.Equal(t, "temp2", sensor)

	_, err = CheckCurrentSensor("temp3")
	assert.Error(t, err)
}

func TestTimingDefaults(t *testing.T) {

	assert := assert.New(t)

	timing := Config{}.Timing(domain.GenerationA)
	assert.Equal(600*time.Second, timing.StateInterval)
	assert.Equal(600*time.Second, timing.ConsumptionInterval)
	assert.Equal(uint(3), timing.VerifyCycles)
	assert.Equal(5*time.Second, timing.BackoffInitial)

	timing = Config{Poll: PollConfig{StateIntervalMillis: 1000, ConsumptionIntervalMillis: 60000}}.Timing(domain.GenerationB)
	assert.Equal(time.Second, timing.StateInterval)
	assert.Equal(time.Minute, timing.ConsumptionInterval)

	// consumption keeps its own default when only the state interval is set
	timing = Config{Poll: PollConfig{StateIntervalMillis: 1000}}.Timing(domain.GenerationB)
	assert.Equal(10*time.Minute, timing.ConsumptionInterval)
}
