package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel   zapcore.Level
	Boiler     BoilerConfig     `mapstructure:"boiler"`
	Poll       PollConfig       `mapstructure:"poll"`
	Thermostat ThermostatConfig `mapstructure:"thermostat"`
	Entities   EntitiesConfig   `mapstructure:"entities"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	Port       uint             `mapstructure:"port"`
	HttpLog    bool             `mapstructure:"http_log"`
}

type BoilerConfig struct {
	Address               string
	Name                  string
	Generation            string
	Pin                   uint16
	HCIDevice             int    `mapstructure:"hci_device"`
	WriteService          string `mapstructure:"write_service"`
	WriteCharacteristic   string `mapstructure:"write_characteristic"`
	NotifyService         string `mapstructure:"notify_service"`
	NotifyCharacteristic  string `mapstructure:"notify_characteristic"`
	ConnectTimeoutMillis  uint32 `mapstructure:"connect_timeout_millis"`
	ResponseTimeoutMillis uint32 `mapstructure:"response_timeout_millis"`
	BackoffInitialMillis  uint32 `mapstructure:"backoff_initial_millis"`
	BackoffMaxMillis      uint32 `mapstructure:"backoff_max_millis"`
}

type PollConfig struct {
	// 0 selects the generation default
	StateIntervalMillis       uint32 `mapstructure:"state_interval_millis"`
	ConsumptionIntervalMillis uint32 `mapstructure:"consumption_interval_millis"`
	VerifyCycles              uint   `mapstructure:"verify_cycles"`
}

type ThermostatConfig struct {
	CurrentSensor string `mapstructure:"current_sensor"`
}

// EntitiesConfig holds the per-entity enable flags. Entities missing from the
// map are enabled.
type EntitiesConfig map[string]bool

func (e EntitiesConfig) Enabled(id string) bool {
	enabled, ok := e[id]
	return !ok || enabled
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type StorageConfig struct {
	Path                string
	FlushIntervalMillis uint32 `mapstructure:"flush_interval_millis"`
}

type InfluxConfig struct {
	Enable bool
	URL    string `mapstructure:"url"`
	Token  string
	Org    string
	Bucket string
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckCurrentSensor validates the sensor mirrored as the thermostat's
// current temperature. The upper sensor, temp2, is the default.
func CheckCurrentSensor(sensor string) (string, error) {
	switch s := strings.ToLower(sensor); s {
	case "":
		return "temp2", nil
	case "temp1", "temp2":
		return s, nil
	}
	return "", errors.New("invalid thermostat sensor. must be temp1 or temp2")
}
