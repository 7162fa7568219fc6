//    Copyright 2020 Dylan Staatz
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package model

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DriverType indicates which channel implementation an actuator uses.
type DriverType string

const (
	// DriverTypeSoftware drives two GPIO pins with software timed PWM.
	DriverTypeSoftware DriverType = "software"
	// DriverTypePCA9685 drives two outputs of a PCA9685 PWM controller.
	DriverTypePCA9685 DriverType = "pca9685"
)

// Config is the root configuration of the worker.
type Config struct {
	MQTT        MQTTConfig       `yaml:"mqtt"`
	HTTP        HTTPConfig       `yaml:"http"`
	TopicPrefix string           `yaml:"topic_prefix"`
	Bridge      string           `yaml:"bridge"`
	Actuators   []ActuatorConfig `yaml:"actuators"`
}

// MQTTConfig holds the connection settings of the MQTT broker
// that delivers actuator commands.
type MQTTConfig struct {
	BrokerAddress string `yaml:"broker_address"`
	ClientID      string `yaml:"client_id"`
	UserName      string `yaml:"user_name"`
	Password      string `yaml:"password"`
}

// HTTPConfig holds the settings of the HTTP server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ActuatorConfig describes a single bipolar actuator.
// Frequency and MinDutyCycle are fixed for the lifetime of the driver.
type ActuatorConfig struct {
	ID           string     `yaml:"id"`
	Driver       DriverType `yaml:"driver"`
	Frequency    float64    `yaml:"frequency"`
	MinDutyCycle float64    `yaml:"min_duty_cycle"`

	// GPIO pin numbers, used by the software driver.
	// PinB carries positive demand, PinA negative demand.
	PinA int `yaml:"pin_a"`
	PinB int `yaml:"pin_b"`

	// PCA9685 settings, used by the pca9685 driver.
	// Outputs are in range 1..16.
	I2CAddress byte `yaml:"i2c_address"`
	OutputA    int  `yaml:"output_a"`
	OutputB    int  `yaml:"output_b"`
}

// DefaultConfig returns the configuration of the original tiger-car
// hardware: drivetrain on pins 5/6, steering on pins 12/13.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.MQTT.BrokerAddress == "" {
		c.MQTT.BrokerAddress = "127.0.0.1:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "carworker"
	}
	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 7129
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "tiger_car"
	}
	if c.Bridge == "" {
		c.Bridge = "rpi"
	}
	if len(c.Actuators) == 0 {
		c.Actuators = []ActuatorConfig{
			{
				ID:           "drivetrain",
				Driver:       DriverTypeSoftware,
				Frequency:    50.0,
				MinDutyCycle: 0.15,
				PinA:         5,
				PinB:         6,
			},
			{
				ID:           "steering",
				Driver:       DriverTypeSoftware,
				Frequency:    50.0,
				MinDutyCycle: 0.2,
				PinA:         12,
				PinB:         13,
			},
		}
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if len(c.Actuators) == 0 {
		return errors.Wrap(ValidationError, "at least one actuator is required")
	}
	seen := make(map[string]struct{})
	for _, a := range c.Actuators {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, found := seen[a.ID]; found {
			return errors.Wrapf(ValidationError, "duplicate actuator id '%s'", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Validate the actuator configuration.
func (a ActuatorConfig) Validate() error {
	if a.ID == "" {
		return errors.Wrap(ValidationError, "actuator id is required")
	}
	if a.Frequency < 0 {
		return errors.Wrapf(ValidationError, "actuator '%s': frequency must be >= 0", a.ID)
	}
	if a.MinDutyCycle < 0 || a.MinDutyCycle > 1 {
		return errors.Wrapf(ValidationError, "actuator '%s': min_duty_cycle must be in [0,1]", a.ID)
	}
	switch a.Driver {
	case DriverTypeSoftware:
		if a.PinA == a.PinB {
			return errors.Wrapf(ValidationError, "actuator '%s': pin_a and pin_b must differ", a.ID)
		}
	case DriverTypePCA9685:
		if a.OutputA < 1 || a.OutputA > 16 || a.OutputB < 1 || a.OutputB > 16 {
			return errors.Wrapf(ValidationError, "actuator '%s': outputs must be in 1..16 range", a.ID)
		}
		if a.OutputA == a.OutputB {
			return errors.Wrapf(ValidationError, "actuator '%s': output_a and output_b must differ", a.ID)
		}
	default:
		return errors.Wrapf(ValidationError, "actuator '%s': unknown driver type '%s'", a.ID, a.Driver)
	}
	return nil
}

// LoadConfig reads, defaults and validates the configuration at the given path.
// An empty path yields the default configuration.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, maskAny(err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, maskAny(err)
		}
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
