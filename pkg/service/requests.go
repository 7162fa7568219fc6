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

	"github.com/mattn/go-pubsub"
	"github.com/rs/zerolog"
)

// Command is a single demand for one actuator.
type Command struct {
	// Actuator is the ID of the actuator the demand is for.
	Actuator string
	// Value is the signed demand in [-1,1].
	Value float64
}

// requestService decouples command producers (MQTT subscriptions) from
// the consumers that drive the actuators.
type requestService interface {
	// Publish a command to all registered receivers.
	Publish(ctx context.Context, cmd Command) error
	// RegisterCommandReceiver adds a callback for incoming commands.
	// The returned function removes the registration.
	RegisterCommandReceiver(cb func(Command) error) context.CancelFunc
}

type requestServiceImpl struct {
	log      zerolog.Logger
	commands *pubsub.PubSub
}

// newRequestService creates a new requestService.
func newRequestService(log zerolog.Logger) requestService {
	return &requestServiceImpl{
		log:      log,
		commands: pubsub.New(),
	}
}

// Publish a command to all registered receivers.
func (s *requestServiceImpl) Publish(ctx context.Context, cmd Command) error {
	s.commands.Pub(cmd)
	return nil
}

// RegisterCommandReceiver adds a callback for incoming commands.
func (s *requestServiceImpl) RegisterCommandReceiver(cb func(Command) error) context.CancelFunc {
	wcb := func(x Command) {
		if err := cb(x); err != nil {
			s.log.Warn().Err(err).Str("actuator", x.Actuator).Msg("Command processing error")
		}
	}
	s.commands.Sub(wcb)
	return func() {
		s.commands.Leave(wcb)
	}
}
