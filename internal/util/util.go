package util

import (
	"github.com/berfenger/smartboiler2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Boiler: config.BoilerConfig{
			Address:               "AA:BB:CC:DD:EE:FF",
			Generation:            "b",
			Pin:                   4321,
			ConnectTimeoutMillis:  2000,
			ResponseTimeoutMillis: 1000,
			BackoffInitialMillis:  100,
			BackoffMaxMillis:      1000,
		},
		Poll: config.PollConfig{
			StateIntervalMillis:       200,
			ConsumptionIntervalMillis: 400,
			VerifyCycles:              3,
		},
		Thermostat: config.ThermostatConfig{
			CurrentSensor: "temp1",
		},
		Entities: config.EntitiesConfig{},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "smartboiler",
		},
		Storage: config.StorageConfig{
			FlushIntervalMillis: 500,
		},
		Port: 8080,
	}
}
