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
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/mqtt"
	"github.com/tigercar/CarWorker/pkg/service/actuator"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

func TestParseControlTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		topic  string
		wantID string
		wantOK bool
	}{
		{"Drivetrain", "tiger_car", "tiger_car/control/drivetrain", "drivetrain", true},
		{"Steering", "tiger_car", "tiger_car/control/steering", "steering", true},
		{"WrongPrefix", "tiger_car", "other_car/control/steering", "", false},
		{"ActualTopic", "tiger_car", "tiger_car/actual/steering", "", false},
		{"EmptyID", "tiger_car", "tiger_car/control/", "", false},
		{"NestedID", "tiger_car", "tiger_car/control/a/b", "", false},
		{"BarePrefix", "tiger_car", "tiger_car/control", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := parseControlTopic(tt.prefix, tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("parseControlTopic(%q, %q) = (%q, %v), want (%q, %v)",
					tt.prefix, tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestCommandMessageDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantErr bool
	}{
		{"Positive", `{"data": 0.5}`, 0.5, false},
		{"Negative", `{"data": -1}`, -1, false},
		{"Zero", `{"data": 0}`, 0, false},
		{"MissingField", `{}`, 0, false},
		{"NotJSON", `full speed`, 0, true},
		{"WrongType", `{"data": "fast"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg commandMessage
			err := json.Unmarshal([]byte(tt.payload), &msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if err == nil && msg.Data != tt.want {
				t.Errorf("decoded data = %v, want %v", msg.Data, tt.want)
			}
		})
	}
}

// fakeMQTT records published messages instead of talking to a broker.
type fakeMQTT struct {
	mutex     sync.Mutex
	published map[string][]interface{}
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{published: make(map[string][]interface{})}
}

func (m *fakeMQTT) Connect(ctx context.Context) error { return nil }

func (m *fakeMQTT) Publish(ctx context.Context, msg interface{}, topic string, qos byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.published[topic] = append(m.published[topic], msg)
	return nil
}

func (m *fakeMQTT) Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}

func (m *fakeMQTT) Close() error { return nil }

func (m *fakeMQTT) lastPublished(t *testing.T, topic string) interface{} {
	t.Helper()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	msgs := m.published[topic]
	if len(msgs) == 0 {
		t.Fatalf("nothing published to topic %q", topic)
	}
	return msgs[len(msgs)-1]
}

func newTestService(t *testing.T) (*service, *fakeMQTT) {
	t.Helper()
	api, err := bridge.NewVirtualBridge()
	if err != nil {
		t.Fatalf("NewVirtualBridge failed: %v", err)
	}
	broker := newFakeMQTT()
	svc, err := NewService(Config{
		ProgramVersion: "test",
		Worker: model.Config{
			TopicPrefix: "tiger_car",
			Actuators: []model.ActuatorConfig{
				{ID: "drivetrain", Driver: model.DriverTypeSoftware, Frequency: 50, MinDutyCycle: 0.15, PinA: 5, PinB: 6},
				{ID: "steering", Driver: model.DriverTypeSoftware, Frequency: 50, MinDutyCycle: 0.2, PinA: 12, PinB: 13},
			},
		},
	}, Dependencies{
		Logger: zerolog.Nop(),
		Bridge: api,
		MQTT:   broker,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc.(*service), broker
}

func TestProcessCommand(t *testing.T) {
	s, broker := newTestService(t)
	ctx := context.Background()
	if err := s.buildActuators(ctx); err != nil {
		t.Fatalf("buildActuators failed: %v", err)
	}
	defer s.closeActuators()

	if err := s.processCommand(ctx, Command{Actuator: "steering", Value: 0.5}); err != nil {
		t.Fatalf("processCommand failed: %v", err)
	}
	state, ok := broker.lastPublished(t, "tiger_car/actual/steering").(actuator.State)
	if !ok {
		t.Fatal("published message is not an actuator state")
	}
	if state.Value != 0.5 {
		t.Errorf("published value = %v, want 0.5", state.Value)
	}
	if state.DutyCycleB != 0.6 {
		t.Errorf("published duty cycle B = %v, want 0.6", state.DutyCycleB)
	}
	if state.DutyCycleA != 0 {
		t.Errorf("published duty cycle A = %v, want 0", state.DutyCycleA)
	}
}

func TestProcessCommandUnknownActuator(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	if err := s.buildActuators(ctx); err != nil {
		t.Fatalf("buildActuators failed: %v", err)
	}
	defer s.closeActuators()

	if err := s.processCommand(ctx, Command{Actuator: "winch", Value: 1}); err == nil {
		t.Error("expected error for unknown actuator")
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	if err := s.buildActuators(ctx); err != nil {
		t.Fatalf("buildActuators failed: %v", err)
	}
	defer s.closeActuators()

	if err := s.processCommand(ctx, Command{Actuator: "drivetrain", Value: -1}); err != nil {
		t.Fatal(err)
	}
	status := s.Status()
	if status.ProgramVersion != "test" {
		t.Errorf("program version = %q, want %q", status.ProgramVersion, "test")
	}
	if len(status.Actuators) != 2 {
		t.Fatalf("expected 2 actuators in status, got %d", len(status.Actuators))
	}
	if got := status.Actuators["drivetrain"].Value; got != -1 {
		t.Errorf("drivetrain value = %v, want -1", got)
	}
	if got := status.Actuators["drivetrain"].DutyCycleA; got != 1 {
		t.Errorf("drivetrain duty cycle A = %v, want 1", got)
	}
}
