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

package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
)

const (
	// QosAtMostOnce represents "QoS 0: At most once delivery".
	QosAtMostOnce byte = 0
	// QosAtLeastOnce represents "QoS 1: At least once delivery".
	QosAtLeastOnce byte = 1
	// QosExactlyOnce represents "QoS 2: Exactly once delivery".
	QosExactlyOnce byte = 2

	publishTimeout = time.Millisecond * 200
	connectTimeout = time.Second * 10
)

// MessageHandler is called for every message received on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Service contains the API exposed by the MQTT service.
type Service interface {
	// Connect to the broker.
	Connect(ctx context.Context) error
	// Publish a JSON encoded message into a topic.
	Publish(ctx context.Context, msg interface{}, topic string, qos byte) error
	// Subscribe to a topic, invoking the given handler for every message.
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	// Close the service
	Close() error
}

// NewService instantiates a new MQTT service with the given config.
func NewService(config model.MQTTConfig, log zerolog.Logger) (Service, error) {
	if config.BrokerAddress == "" {
		return nil, errors.Wrap(model.ValidationError, "broker address is empty")
	}
	return &service{
		log:    log.With().Str("component", "mqtt").Logger(),
		config: config,
	}, nil
}

type service struct {
	log       zerolog.Logger
	mutex     sync.Mutex
	config    model.MQTTConfig
	client    mqttapi.Client
	connected bool
}

// Connect opens the connection to the broker.
// Calling Connect on a connected service is a no-op.
func (s *service) Connect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.connected {
		return nil
	}

	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + s.config.BrokerAddress).
		SetClientID(s.config.ClientID)
	if s.config.UserName != "" {
		opts.SetUsername(s.config.UserName)
		opts.SetPassword(s.config.Password)
	}
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetDefaultPublishHandler(func(c mqttapi.Client, m mqttapi.Message) {
		// Ignore messages when no subscription match
	})
	opts.SetConnectionLostHandler(func(c mqttapi.Client, err error) {
		s.log.Warn().Err(err).Msg("Lost connection to MQTT broker")
	})
	opts.SetOnConnectHandler(func(c mqttapi.Client) {
		s.log.Debug().Str("broker", s.config.BrokerAddress).Msg("Connected to MQTT broker")
	})

	s.client = mqttapi.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "failed to connect to mqtt broker '%s'", s.config.BrokerAddress)
	}
	s.connected = true
	return nil
}

// Publish a JSON encoded message into a topic.
func (s *service) Publish(ctx context.Context, msg interface{}, topic string, qos byte) error {
	s.mutex.Lock()
	client := s.client
	connected := s.connected
	s.mutex.Unlock()

	if !connected {
		return errors.Wrap(model.ValidationError, "not connected")
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to encode message for topic '%s'", topic)
	}
	token := client.Publish(topic, qos, false, encoded)
	if !token.WaitTimeout(publishTimeout) {
		s.log.Error().Err(token.Error()).
			Str("topic", topic).
			Msg("failed to deliver MQTT message in time")
		return errors.Errorf("failed to deliver message to topic '%s' in time", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "failed to publish to topic '%s'", topic)
	}
	return nil
}

// Subscribe to a topic, invoking the given handler for every message.
// The subscription lives until the service is closed.
func (s *service) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	s.mutex.Lock()
	client := s.client
	connected := s.connected
	s.mutex.Unlock()

	if !connected {
		return errors.Wrap(model.ValidationError, "not connected")
	}
	token := client.Subscribe(topic, qos, func(c mqttapi.Client, m mqttapi.Message) {
		handler(m.Topic(), m.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "failed to subscribe to '%s'", topic)
	}
	return nil
}

// Close the service
func (s *service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.connected {
		s.client.Disconnect(250)
		s.connected = false
		s.client = nil
	}
	return nil
}
