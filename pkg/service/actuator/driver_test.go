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

	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
)

// channelWrite is one entry in the shared ordered write log.
type channelWrite struct {
	channel   *fakeChannel
	dutyCycle float64
}

// fakeChannel records every duty cycle written to it.
// Channels of the same driver share one write log, preserving the order
// of writes across both channels.
type fakeChannel struct {
	log       *[]channelWrite
	writes    []float64
	dutyCycle float64
	writeErr  error
	closed    bool
}

func (c *fakeChannel) SetDutyCycle(ctx context.Context, dutyCycle float64) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, dutyCycle)
	c.dutyCycle = dutyCycle
	if c.log != nil {
		*c.log = append(*c.log, channelWrite{c, dutyCycle})
	}
	return nil
}

func (c *fakeChannel) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func newTestDriver(t *testing.T, minDutyCycle float64) (*Driver, *fakeChannel, *fakeChannel) {
	t.Helper()
	log := &[]channelWrite{}
	chA := &fakeChannel{log: log}
	chB := &fakeChannel{log: log}
	d, err := NewDriver(context.Background(), Config{
		ID:           "test",
		Frequency:    50,
		MinDutyCycle: minDutyCycle,
	}, chA, chB, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d, chA, chB
}

func assertDutyCycles(t *testing.T, chA, chB *fakeChannel, wantA, wantB float64) {
	t.Helper()
	const eps = 1e-9
	if math.Abs(chA.dutyCycle-wantA) > eps {
		t.Errorf("channel A duty cycle = %v, want %v", chA.dutyCycle, wantA)
	}
	if math.Abs(chB.dutyCycle-wantB) > eps {
		t.Errorf("channel B duty cycle = %v, want %v", chB.dutyCycle, wantB)
	}
}

func TestNewDriverStartsZeroed(t *testing.T) {
	_, chA, chB := newTestDriver(t, 0.15)
	assertDutyCycles(t, chA, chB, 0, 0)
	if len(chA.writes) == 0 || len(chB.writes) == 0 {
		t.Error("expected both channels to be written at construction")
	}
}

func TestNewDriverClosesChannelsOnFailure(t *testing.T) {
	chA := &fakeChannel{}
	chB := &fakeChannel{writeErr: context.DeadlineExceeded}
	_, err := NewDriver(context.Background(), Config{ID: "broken"}, chA, chB, zerolog.Nop())
	if err == nil {
		t.Fatal("expected NewDriver to fail")
	}
	if !chA.closed || !chB.closed {
		t.Errorf("expected both channels closed after construction failure, got A=%v B=%v", chA.closed, chB.closed)
	}
}

func TestOutputDirections(t *testing.T) {
	tests := []struct {
		name         string
		minDutyCycle float64
		value        float64
		wantA        float64
		wantB        float64
	}{
		{"Zero", 0.15, 0, 0, 0},
		{"FullForward", 0.15, 1, 0, 1},
		{"FullReverse", 0.15, -1, 1, 0},
		{"HalfForward", 0.2, 0.5, 0, 0.6},
		{"HalfReverse", 0.2, -0.5, 0.6, 0},
		{"SmallForward", 0.15, 0.1, 0, MapRange(0.1, 0, 1, 0.15, 1)},
		{"ClampedForward", 0.15, 2, 0, 1},
		{"ClampedReverse", 0.15, -3.5, 1, 0},
		{"NoDeadZone", 0, 0.5, 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, chA, chB := newTestDriver(t, tt.minDutyCycle)
			if err := d.Output(context.Background(), tt.value); err != nil {
				t.Fatalf("Output(%v) failed: %v", tt.value, err)
			}
			assertDutyCycles(t, chA, chB, tt.wantA, tt.wantB)
		})
	}
}

// A non-zero demand must never produce a duty cycle below the dead-zone
// floor, no matter how small the magnitude.
func TestOutputDeadZoneFloor(t *testing.T) {
	const minDuty = 0.2
	d, chA, chB := newTestDriver(t, minDuty)
	for _, value := range []float64{0.001, 0.01, 0.1, -0.001, -0.05} {
		if err := d.Output(context.Background(), value); err != nil {
			t.Fatalf("Output(%v) failed: %v", value, err)
		}
		active := chB.dutyCycle
		if value < 0 {
			active = chA.dutyCycle
		}
		if active < minDuty {
			t.Errorf("Output(%v): active duty cycle %v below floor %v", value, active, minDuty)
		}
	}
}

// At most one channel may be non-zero at any point in time, including
// between the two writes of a direction change.
func TestOutputMutualExclusivity(t *testing.T) {
	d, chA, chB := newTestDriver(t, 0.15)
	ctx := context.Background()
	if err := d.Output(ctx, 0.8); err != nil {
		t.Fatal(err)
	}
	if err := d.Output(ctx, -0.8); err != nil {
		t.Fatal(err)
	}

	// Replay the ordered write log and verify that a channel is only
	// ever driven while the other is at zero.
	levelA, levelB := 0.0, 0.0
	for _, w := range *chA.log {
		if w.channel == chA {
			levelA = w.dutyCycle
		} else {
			levelB = w.dutyCycle
		}
		if levelA > 0 && levelB > 0 {
			t.Fatalf("both channels non-zero at the same time: A=%v B=%v", levelA, levelB)
		}
	}
	assertDutyCycles(t, chA, chB, MapRange(0.8, 0, 1, 0.15, 1), 0)
}

func TestOutputRejectsNaN(t *testing.T) {
	d, chA, chB := newTestDriver(t, 0.15)
	ctx := context.Background()
	if err := d.Output(ctx, 0.5); err != nil {
		t.Fatal(err)
	}
	err := d.Output(ctx, math.NaN())
	if err == nil {
		t.Fatal("expected error for NaN demand")
	}
	if !model.IsInvalidArgument(err) {
		t.Errorf("expected invalid argument error, got %v", err)
	}
	// The previous output must be untouched.
	assertDutyCycles(t, chA, chB, 0, 0.575)
	if state := d.State(); state.Value != 0.5 {
		t.Errorf("state value = %v, want 0.5", state.Value)
	}
}

func TestOutputFailureZeroesDefensively(t *testing.T) {
	d, chA, chB := newTestDriver(t, 0.15)
	ctx := context.Background()
	if err := d.Output(ctx, 1); err != nil {
		t.Fatal(err)
	}

	chB.writeErr = context.DeadlineExceeded
	if err := d.Output(ctx, 0.5); err == nil {
		t.Fatal("expected error when the active channel write fails")
	}
	// The healthy channel must have been forced back to zero.
	if chA.dutyCycle != 0 {
		t.Errorf("channel A duty cycle = %v, want 0 after defensive zero", chA.dutyCycle)
	}
	// The last good state is not overwritten by a failed output.
	if state := d.State(); state.Value != 1 {
		t.Errorf("state value = %v, want 1", state.Value)
	}
}

func TestDriverState(t *testing.T) {
	d, _, _ := newTestDriver(t, 0.2)
	ctx := context.Background()
	if err := d.Output(ctx, -0.5); err != nil {
		t.Fatal(err)
	}
	state := d.State()
	if state.Value != -0.5 {
		t.Errorf("state value = %v, want -0.5", state.Value)
	}
	if state.DutyCycleA != 0.6 {
		t.Errorf("state duty cycle A = %v, want 0.6", state.DutyCycleA)
	}
	if state.DutyCycleB != 0 {
		t.Errorf("state duty cycle B = %v, want 0", state.DutyCycleB)
	}
}

func TestDriverClose(t *testing.T) {
	d, chA, chB := newTestDriver(t, 0.15)
	ctx := context.Background()
	if err := d.Output(ctx, 0.7); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	assertDutyCycles(t, chA, chB, 0, 0)
	if !chA.closed || !chB.closed {
		t.Errorf("expected both channels closed, got A=%v B=%v", chA.closed, chB.closed)
	}
	// Closing twice is a no-op.
	if err := d.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	// Output after Close is rejected.
	if err := d.Output(ctx, 0.5); err == nil {
		t.Error("expected error for Output after Close")
	}
}

// Even when zeroing fails, Close must still release both channels and
// report the failure instead of panicking or dropping it.
func TestDriverCloseReportsZeroFailure(t *testing.T) {
	d, chA, chB := newTestDriver(t, 0.15)
	ctx := context.Background()
	chA.writeErr = context.DeadlineExceeded
	if err := d.Close(ctx); err == nil {
		t.Fatal("expected Close to report the failed zeroing")
	}
	if !chA.closed || !chB.closed {
		t.Errorf("expected both channels closed despite zero failure, got A=%v B=%v", chA.closed, chB.closed)
	}
}
