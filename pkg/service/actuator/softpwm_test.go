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

package actuator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

func newVirtualChannel(t *testing.T, pinNumber int, frequency float64) (Channel, *bridge.VirtualBridge) {
	t.Helper()
	api, err := bridge.NewVirtualBridge()
	if err != nil {
		t.Fatalf("NewVirtualBridge failed: %v", err)
	}
	c, err := NewSoftwareChannel(api, pinNumber, frequency, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSoftwareChannel failed: %v", err)
	}
	return c, api
}

func pinValue(t *testing.T, api *bridge.VirtualBridge, pinNumber int) bool {
	t.Helper()
	value, err := api.PinValue(pinNumber)
	if err != nil {
		t.Fatalf("PinValue(%d) failed: %v", pinNumber, err)
	}
	return value
}

// waitForPin polls the pin until it settles on the wanted level.
// The modulation loop may still be applying a previous level when
// SetDutyCycle returns, so a single read would race with it.
func waitForPin(t *testing.T, api *bridge.VirtualBridge, pinNumber int, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pinValue(t, api, pinNumber) == want {
			return
		}
		time.Sleep(time.Millisecond * 5)
	}
	t.Errorf("pin %d did not settle on %v", pinNumber, want)
}

// With frequency 0 the channel degenerates to a static level:
// high for any positive duty cycle, low for zero.
func TestSoftwareChannelStaticLevel(t *testing.T) {
	const pin = 5
	c, api := newVirtualChannel(t, pin, 0)
	ctx := context.Background()
	defer c.Close(ctx)

	waitForPin(t, api, pin, false)
	if err := c.SetDutyCycle(ctx, 1); err != nil {
		t.Fatalf("SetDutyCycle(1) failed: %v", err)
	}
	waitForPin(t, api, pin, true)
	if err := c.SetDutyCycle(ctx, 0); err != nil {
		t.Fatalf("SetDutyCycle(0) failed: %v", err)
	}
	waitForPin(t, api, pin, false)
}

func TestSoftwareChannelRejectsNaN(t *testing.T) {
	c, _ := newVirtualChannel(t, 6, 50)
	ctx := context.Background()
	defer c.Close(ctx)

	err := c.SetDutyCycle(ctx, math.NaN())
	if err == nil {
		t.Fatal("expected error for NaN duty cycle")
	}
	if !model.IsInvalidArgument(err) {
		t.Errorf("expected invalid argument error, got %v", err)
	}
}

func TestSoftwareChannelClose(t *testing.T) {
	const pin = 12
	c, api := newVirtualChannel(t, pin, 0)
	ctx := context.Background()

	if err := c.SetDutyCycle(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if pinValue(t, api, pin) {
		t.Error("expected pin low after Close")
	}
	// Closing twice is a no-op.
	if err := c.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	// A closed channel no longer accepts duty cycles.
	if err := c.SetDutyCycle(ctx, 0.5); err == nil {
		t.Error("expected error for SetDutyCycle after Close")
	}
}

// A pin can only be owned by one channel at a time.
func TestSoftwareChannelPinConflict(t *testing.T) {
	const pin = 13
	c, api := newVirtualChannel(t, pin, 50)
	defer c.Close(context.Background())

	if _, err := NewSoftwareChannel(api, pin, 50, zerolog.Nop()); err == nil {
		t.Error("expected error when acquiring a pin twice")
	}
}
