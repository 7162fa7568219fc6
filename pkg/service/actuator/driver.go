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

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
)

// DriverClosedError is returned by Output after the driver has been closed.
var DriverClosedError = errors.New("driver is closed")

// Config of a single driver.
// Frequency and MinDutyCycle are fixed for the lifetime of the driver.
type Config struct {
	// ID of the actuator, used in logs and metrics.
	ID string
	// Frequency is the PWM carrier frequency in Hz. Floored at 0.
	Frequency float64
	// MinDutyCycle is the dead-zone floor of the actuator: the lowest
	// duty cycle the hardware still responds to. Clamped into [0,1].
	MinDutyCycle float64
}

// Driver translates a signed demand value in [-1,1] into duty cycles on
// two unipolar channels: positive demand drives channelB, negative demand
// drives channelA, and at most one channel is non-zero at any time.
//
// A Driver is not safe for concurrent use; wrap it in a Handle when
// multiple goroutines issue commands.
type Driver struct {
	log          zerolog.Logger
	id           string
	frequency    float64
	minDutyCycle float64
	channelA     Channel
	channelB     Channel

	lastValue  float64
	dutyCycleA float64
	dutyCycleB float64
	closed     bool
}

// State is a snapshot of the last successfully applied output.
type State struct {
	// Value is the last demand value applied.
	Value float64 `json:"value"`
	// DutyCycleA is the duty cycle on the negative-direction channel.
	DutyCycleA float64 `json:"duty_cycle_a"`
	// DutyCycleB is the duty cycle on the positive-direction channel.
	DutyCycleB float64 `json:"duty_cycle_b"`
}

// NewDriver creates a driver that owns the given channels and establishes
// the safe state: both channels at duty cycle 0. When that fails the
// channels are closed again and an error is returned; there is no
// degraded mode with only one working channel.
func NewDriver(ctx context.Context, config Config, channelA, channelB Channel, log zerolog.Logger) (*Driver, error) {
	if config.Frequency < 0 {
		config.Frequency = 0
	}
	if config.MinDutyCycle < 0 {
		config.MinDutyCycle = 0
	} else if config.MinDutyCycle > 1 {
		config.MinDutyCycle = 1
	}
	d := &Driver{
		log:          log.With().Str("actuator", config.ID).Logger(),
		id:           config.ID,
		frequency:    config.Frequency,
		minDutyCycle: config.MinDutyCycle,
		channelA:     channelA,
		channelB:     channelB,
	}
	if err := d.Output(ctx, 0); err != nil {
		// No safe partial state; release what we acquired.
		if cerr := channelA.Close(ctx); cerr != nil {
			d.log.Warn().Err(cerr).Msg("Failed to close channel A after construction failure")
		}
		if cerr := channelB.Close(ctx); cerr != nil {
			d.log.Warn().Err(cerr).Msg("Failed to close channel B after construction failure")
		}
		return nil, errors.Wrapf(err, "failed to zero actuator '%s' at construction", config.ID)
	}
	return d, nil
}

// Output translates the given demand value into duty cycles on the two
// channels. The value is clamped into [-1,1]; non-zero magnitudes are
// rescaled from (0,1] onto (minDutyCycle,1] so the actuator always
// receives a duty cycle it can act on, while 0 stays exactly 0.
//
// NaN is a caller contract violation and is rejected with an error;
// Output never panics on it.
//
// When a channel write fails the driver defensively tries to zero both
// channels and returns the original error; the caller must treat the
// actuator state as indeterminate.
func (d *Driver) Output(ctx context.Context, value float64) error {
	if d.closed {
		return errors.Wrapf(DriverClosedError, "actuator '%s'", d.id)
	}
	if math.IsNaN(value) {
		outputErrorsTotal.WithLabelValues(d.id).Inc()
		return errors.Wrapf(model.InvalidArgumentError, "demand value for actuator '%s' is NaN", d.id)
	}
	outputsTotal.WithLabelValues(d.id).Inc()

	// Clamp into the valid demand range.
	if value < -1 {
		value = -1
	} else if value > 1 {
		value = 1
	}

	var err error
	switch {
	case value > 0:
		err = d.drive(ctx, d.channelB, d.channelA, value)
	case value < 0:
		err = d.drive(ctx, d.channelA, d.channelB, -value)
	default:
		err = d.zero(ctx)
	}
	if err != nil {
		outputErrorsTotal.WithLabelValues(d.id).Inc()
		return err
	}

	d.lastValue = value
	demandGauge.WithLabelValues(d.id).Set(value)
	dutyCycleGauge.WithLabelValues(d.id, "a").Set(d.dutyCycleA)
	dutyCycleGauge.WithLabelValues(d.id, "b").Set(d.dutyCycleB)
	return nil
}

// drive rescales the magnitude onto (minDutyCycle,1] and applies it to
// the active channel. The idle channel is always zeroed first, so both
// channels are never observed non-zero at the same time.
func (d *Driver) drive(ctx context.Context, active, idle Channel, magnitude float64) error {
	dutyCycle := MapRange(magnitude, 0, 1, d.minDutyCycle, 1)
	if err := idle.SetDutyCycle(ctx, 0); err != nil {
		d.zeroDefensively(ctx)
		return errors.Wrapf(err, "failed to zero idle channel of actuator '%s'", d.id)
	}
	d.setIdleDuty(idle)
	if err := active.SetDutyCycle(ctx, dutyCycle); err != nil {
		d.zeroDefensively(ctx)
		return errors.Wrapf(err, "failed to drive actuator '%s'", d.id)
	}
	d.setActiveDuty(active, dutyCycle)
	return nil
}

// zero sets both channels to duty cycle 0.
// Both writes are always attempted; errors are collected.
func (d *Driver) zero(ctx context.Context) error {
	var ae aerr.AggregateError
	if err := d.channelA.SetDutyCycle(ctx, 0); err != nil {
		ae.Add(errors.Wrapf(err, "failed to zero channel A of actuator '%s'", d.id))
	} else {
		d.dutyCycleA = 0
	}
	if err := d.channelB.SetDutyCycle(ctx, 0); err != nil {
		ae.Add(errors.Wrapf(err, "failed to zero channel B of actuator '%s'", d.id))
	} else {
		d.dutyCycleB = 0
	}
	return ae.AsError()
}

// zeroDefensively attempts to bring both channels to 0 after a failed
// write. Best effort: its own failures are only logged, the caller
// reports the original error.
func (d *Driver) zeroDefensively(ctx context.Context) {
	if err := d.zero(ctx); err != nil {
		d.log.Warn().Err(err).Msg("Defensive zero after failed output failed; actuator state is indeterminate")
	}
}

func (d *Driver) setActiveDuty(active Channel, dutyCycle float64) {
	if active == d.channelA {
		d.dutyCycleA = dutyCycle
	} else {
		d.dutyCycleB = dutyCycle
	}
}

func (d *Driver) setIdleDuty(idle Channel) {
	if idle == d.channelA {
		d.dutyCycleA = 0
	} else {
		d.dutyCycleB = 0
	}
}

// State returns a snapshot of the last successfully applied output.
func (d *Driver) State() State {
	return State{
		Value:      d.lastValue,
		DutyCycleA: d.dutyCycleA,
		DutyCycleB: d.dutyCycleB,
	}
}

// Close brings the actuator back to the safe state and releases both
// channels. The zeroing is always attempted first; all errors are
// collected and returned, never silently dropped. Closing twice is a no-op.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	var ae aerr.AggregateError
	if err := d.zero(ctx); err != nil {
		ae.Add(err)
	}
	d.closed = true
	if err := d.channelA.Close(ctx); err != nil {
		ae.Add(errors.Wrapf(err, "failed to close channel A of actuator '%s'", d.id))
	}
	if err := d.channelB.Close(ctx); err != nil {
		ae.Add(errors.Wrapf(err, "failed to close channel B of actuator '%s'", d.id))
	}
	if err := ae.AsError(); err != nil {
		d.log.Warn().Err(err).Msg("Failed to close actuator cleanly")
		return err
	}
	d.log.Debug().Msg("Actuator closed")
	return nil
}
