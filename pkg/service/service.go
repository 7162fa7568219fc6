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

package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/mqtt"
	"github.com/tigercar/CarWorker/pkg/service/actuator"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
	"github.com/tigercar/CarWorker/pkg/service/devices"
	"github.com/tigercar/CarWorker/pkg/service/util"
)

type Service interface {
	// Run the worker until the given context is cancelled.
	Run(ctx context.Context) error
	// Status returns a snapshot of the worker state.
	Status() Status
}

type Config struct {
	ProgramVersion string
	Worker         model.Config
}

type Dependencies struct {
	Logger zerolog.Logger
	Bridge bridge.API
	MQTT   mqtt.Service
}

// Status is a snapshot of the worker state, served over HTTP.
type Status struct {
	ProgramVersion string                    `json:"program_version"`
	StartedAt      time.Time                 `json:"started_at"`
	Actuators      map[string]actuator.State `json:"actuators"`
}

// commandMessage is the payload of a control topic message.
type commandMessage struct {
	Data float64 `json:"data"`
}

const (
	// Timeout for the fail-safe teardown when the run context is already gone.
	teardownTimeout = time.Second * 5
	// Interval between periodic republications of actual state.
	actualPublishInterval = time.Second * 5
)

type service struct {
	Config
	Dependencies

	mutex     sync.Mutex
	startedAt time.Time
	requests  requestService
	handles   map[string]*actuator.Handle
	pwmChips  map[byte]devices.PWM
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Logger = deps.Logger.With().Str("component", "service").Logger()
	if len(conf.Worker.Actuators) == 0 {
		return nil, errors.Wrap(model.ValidationError, "no actuators configured")
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
		startedAt:    time.Now(),
		requests:     newRequestService(deps.Logger),
		handles:      make(map[string]*actuator.Handle),
		pwmChips:     make(map[byte]devices.PWM),
	}, nil
}

// Run builds the actuators, connects to the MQTT broker and serves
// commands until the given context is canceled. On any exit path the
// actuators are zeroed and released before the function returns.
func (s *service) Run(ctx context.Context) error {
	log := s.Logger
	defer s.Bridge.Close()

	// Worker is starting up
	s.Bridge.BlinkGreenLED(time.Millisecond * 250)
	s.Bridge.SetRedLED(false)

	if err := s.buildActuators(ctx); err != nil {
		s.Bridge.SetRedLED(true)
		return errors.Wrap(err, "failed to build actuators")
	}
	defer s.closeActuators()

	if err := s.MQTT.Connect(ctx); err != nil {
		s.Bridge.SetRedLED(true)
		return errors.Wrap(err, "failed to connect to MQTT broker")
	}
	defer s.MQTT.Close()

	cancelReceiver := s.requests.RegisterCommandReceiver(func(cmd Command) error {
		return s.processCommand(ctx, cmd)
	})
	defer cancelReceiver()

	controlTopics := s.Worker.TopicPrefix + "/control/+"
	if err := s.MQTT.Subscribe(ctx, controlTopics, mqtt.QosAtMostOnce, s.onControlMessage); err != nil {
		s.Bridge.SetRedLED(true)
		return errors.Wrapf(err, "failed to subscribe to '%s'", controlTopics)
	}

	go s.runPublishActuals(ctx)

	s.Bridge.SetGreenLED(true)
	log.Info().
		Int("actuators", len(s.handles)).
		Str("topic_prefix", s.Worker.TopicPrefix).
		Msg("Worker is ready")

	<-ctx.Done()
	s.Bridge.SetGreenLED(false)
	return nil
}

// buildActuators creates channels, drivers and handles for every
// configured actuator. A failure tears down everything built so far.
func (s *service) buildActuators(ctx context.Context) error {
	log := s.Logger
	for _, ac := range s.Worker.Actuators {
		chA, chB, err := s.buildChannels(ctx, ac)
		if err != nil {
			s.closeActuators()
			return errors.Wrapf(err, "failed to build channels for actuator '%s'", ac.ID)
		}
		driver, err := actuator.NewDriver(ctx, actuator.Config{
			ID:           ac.ID,
			Frequency:    ac.Frequency,
			MinDutyCycle: ac.MinDutyCycle,
		}, chA, chB, log)
		if err != nil {
			s.closeActuators()
			return errors.Wrapf(err, "failed to create driver for actuator '%s'", ac.ID)
		}
		s.mutex.Lock()
		s.handles[ac.ID] = actuator.NewHandle(driver)
		s.mutex.Unlock()
		log.Debug().
			Str("actuator", ac.ID).
			Str("driver", string(ac.Driver)).
			Float64("frequency", ac.Frequency).
			Float64("min_duty_cycle", ac.MinDutyCycle).
			Msg("Actuator ready")
	}
	return nil
}

// buildChannels creates the channel pair for one actuator.
func (s *service) buildChannels(ctx context.Context, ac model.ActuatorConfig) (actuator.Channel, actuator.Channel, error) {
	switch ac.Driver {
	case model.DriverTypeSoftware:
		chA, err := actuator.NewSoftwareChannel(s.Bridge, ac.PinA, ac.Frequency, s.Logger)
		if err != nil {
			return nil, nil, err
		}
		chB, err := actuator.NewSoftwareChannel(s.Bridge, ac.PinB, ac.Frequency, s.Logger)
		if err != nil {
			chA.Close(ctx)
			return nil, nil, err
		}
		return chA, chB, nil
	case model.DriverTypePCA9685:
		dev, err := s.pwmChip(ctx, ac)
		if err != nil {
			return nil, nil, err
		}
		chA, err := actuator.NewHardwareChannel(dev, ac.OutputA)
		if err != nil {
			return nil, nil, err
		}
		chB, err := actuator.NewHardwareChannel(dev, ac.OutputB)
		if err != nil {
			chA.Close(ctx)
			return nil, nil, err
		}
		return chA, chB, nil
	default:
		return nil, nil, errors.Wrapf(model.ValidationError, "unknown driver '%s'", ac.Driver)
	}
}

// pwmChip returns the PCA9685 at the given address, creating and
// configuring it on first use. Actuators on the same chip share it.
func (s *service) pwmChip(ctx context.Context, ac model.ActuatorConfig) (devices.PWM, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if dev, found := s.pwmChips[ac.I2CAddress]; found {
		return dev, nil
	}
	bus, err := s.Bridge.I2CBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open I2C bus")
	}
	dev, err := devices.NewPCA9685(ac.I2CAddress, ac.Frequency, bus)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create PCA9685 at address 0x%0x", ac.I2CAddress)
	}
	if err := dev.Configure(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to configure PCA9685 at address 0x%0x", ac.I2CAddress)
	}
	s.pwmChips[ac.I2CAddress] = dev
	return dev, nil
}

// closeActuators zeroes and releases all actuators and PWM chips.
// Uses its own deadline so teardown still happens when the run context
// is already canceled. Errors are logged, never dropped silently.
func (s *service) closeActuators() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	s.mutex.Lock()
	handles := s.handles
	chips := s.pwmChips
	s.handles = make(map[string]*actuator.Handle)
	s.pwmChips = make(map[byte]devices.PWM)
	s.mutex.Unlock()

	var ae aerr.AggregateError
	for id, handle := range handles {
		if err := handle.Close(ctx); err != nil {
			ae.Add(errors.Wrapf(err, "failed to close actuator '%s'", id))
		}
	}
	for address, dev := range chips {
		if err := dev.Close(ctx); err != nil {
			ae.Add(errors.Wrapf(err, "failed to close PCA9685 at address 0x%0x", address))
		}
	}
	if err := ae.AsError(); err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to close all actuators cleanly")
	}
}

// onControlMessage decodes a message from a control topic and hands it
// to the request service. Malformed messages are counted and dropped.
func (s *service) onControlMessage(topic string, payload []byte) {
	log := s.Logger
	id, ok := parseControlTopic(s.Worker.TopicPrefix, topic)
	if !ok {
		commandDecodeErrorsTotal.Inc()
		log.Debug().Str("topic", topic).Msg("Ignoring message on unexpected topic")
		return
	}
	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		commandDecodeErrorsTotal.Inc()
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to decode command message")
		return
	}
	if math.IsNaN(msg.Data) {
		commandDecodeErrorsTotal.Inc()
		log.Warn().Str("topic", topic).Msg("Rejecting NaN demand value")
		return
	}
	log.Debug().Str("actuator", id).Float64("value", msg.Data).Msg("Received command")
	if err := s.requests.Publish(context.Background(), Command{Actuator: id, Value: msg.Data}); err != nil {
		log.Warn().Err(err).Str("actuator", id).Msg("Failed to publish command")
	}
}

// processCommand applies one command to its actuator and publishes the
// resulting state to the actual topic.
func (s *service) processCommand(ctx context.Context, cmd Command) error {
	s.mutex.Lock()
	handle, found := s.handles[cmd.Actuator]
	s.mutex.Unlock()

	if !found {
		commandErrorsTotal.WithLabelValues(cmd.Actuator).Inc()
		return errors.Wrapf(model.InvalidArgumentError, "unknown actuator '%s'", cmd.Actuator)
	}
	commandsTotal.WithLabelValues(cmd.Actuator).Inc()
	if err := handle.Output(ctx, cmd.Value); err != nil {
		commandErrorsTotal.WithLabelValues(cmd.Actuator).Inc()
		return errors.Wrapf(err, "failed to drive actuator '%s'", cmd.Actuator)
	}

	state := handle.State()
	actualTopic := s.Worker.TopicPrefix + "/actual/" + cmd.Actuator
	if err := s.MQTT.Publish(ctx, state, actualTopic, mqtt.QosAtMostOnce); err != nil {
		actualPublishErrorsTotal.Inc()
		s.Logger.Warn().Err(err).Str("topic", actualTopic).Msg("Failed to publish actual state")
	}
	return nil
}

// runPublishActuals republishes the actual state of all actuators at a
// fixed interval, so subscribers that join late still converge.
func (s *service) runPublishActuals(ctx context.Context) {
	util.UntilCanceled(ctx, s.Logger, "publishActuals", func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(actualPublishInterval):
		}
		return s.publishActuals(ctx)
	})
}

// publishActuals publishes the current state of every actuator.
func (s *service) publishActuals(ctx context.Context) error {
	s.mutex.Lock()
	handles := make(map[string]*actuator.Handle, len(s.handles))
	for id, handle := range s.handles {
		handles[id] = handle
	}
	s.mutex.Unlock()

	var ae aerr.AggregateError
	for id, handle := range handles {
		actualTopic := s.Worker.TopicPrefix + "/actual/" + id
		if err := s.MQTT.Publish(ctx, handle.State(), actualTopic, mqtt.QosAtMostOnce); err != nil {
			actualPublishErrorsTotal.Inc()
			ae.Add(errors.Wrapf(err, "failed to publish actual state of '%s'", id))
		}
	}
	return ae.AsError()
}

// Status returns a snapshot of the worker state.
func (s *service) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	actuators := make(map[string]actuator.State, len(s.handles))
	for id, handle := range s.handles {
		actuators[id] = handle.State()
	}
	return Status{
		ProgramVersion: s.ProgramVersion,
		StartedAt:      s.startedAt,
		Actuators:      actuators,
	}
}

// parseControlTopic extracts the actuator ID from a control topic.
// The expected shape is '<prefix>/control/<id>' with a non-empty ID
// that contains no further slashes.
func parseControlTopic(prefix, topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/control/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
