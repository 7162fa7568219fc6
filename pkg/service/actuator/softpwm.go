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
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

// softwareChannel generates a PWM waveform on a plain GPIO output pin
// by toggling it from a dedicated goroutine.
type softwareChannel struct {
	mutex     sync.Mutex
	log       zerolog.Logger
	pin       bridge.OutputPin
	pinNumber int
	period    time.Duration
	dutyCycle float64
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

const (
	// Poll delay of the modulation loop while the output is static.
	softwarePwmIdleDelay = time.Millisecond * 10
)

// NewSoftwareChannel acquires the given GPIO pin through the bridge and
// starts modulating it at the given carrier frequency (Hz) with duty cycle 0.
// With frequency 0 the pin is held at a static level (high iff duty cycle > 0).
func NewSoftwareChannel(api bridge.API, pinNumber int, frequency float64, log zerolog.Logger) (Channel, error) {
	pin, err := api.Output(pinNumber, false, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire output pin %d", pinNumber)
	}
	var period time.Duration
	if frequency > 0 {
		period = time.Duration(float64(time.Second) / frequency)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &softwareChannel{
		log:       log.With().Int("pin", pinNumber).Logger(),
		pin:       pin,
		pinNumber: pinNumber,
		period:    period,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

// SetDutyCycle sets the fraction of each carrier period the output is high.
func (c *softwareChannel) SetDutyCycle(ctx context.Context, dutyCycle float64) error {
	if math.IsNaN(dutyCycle) {
		return errors.Wrapf(model.InvalidArgumentError, "duty cycle is NaN on pin %d", c.pinNumber)
	}
	if dutyCycle < 0 {
		dutyCycle = 0
	} else if dutyCycle > 1 {
		dutyCycle = 1
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return errors.Wrapf(model.InvalidArgumentError, "channel on pin %d is closed", c.pinNumber)
	}
	c.dutyCycle = dutyCycle
	// Write the new level right away, so acquisition/hardware failures
	// surface to the caller instead of only inside the modulation loop.
	if err := c.pin.Write(dutyCycle > 0); err != nil {
		return errors.Wrapf(err, "failed to write pin %d", c.pinNumber)
	}
	return nil
}

// Close forces the output low and stops the modulation loop.
func (c *softwareChannel) Close(ctx context.Context) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.dutyCycle = 0
	c.mutex.Unlock()

	c.cancel()
	select {
	case <-c.done:
		// Loop terminated
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.pin.Write(false); err != nil {
		return errors.Wrapf(err, "failed to lower pin %d", c.pinNumber)
	}
	return nil
}

// run modulates the pin until the given context is canceled.
func (c *softwareChannel) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}

		c.mutex.Lock()
		dutyCycle := c.dutyCycle
		c.mutex.Unlock()

		if c.period <= 0 || dutyCycle <= 0 || dutyCycle >= 1 {
			// Static level, nothing to modulate.
			c.write(dutyCycle > 0)
			if !c.sleep(ctx, softwarePwmIdleDelay) {
				return
			}
			continue
		}

		onTime := time.Duration(dutyCycle * float64(c.period))
		c.write(true)
		if !c.sleep(ctx, onTime) {
			return
		}
		c.write(false)
		if !c.sleep(ctx, c.period-onTime) {
			return
		}
	}
}

// write sets the pin level, counting failures.
func (c *softwareChannel) write(value bool) {
	if err := c.pin.Write(value); err != nil {
		softwarePwmWriteErrorsTotal.WithLabelValues(strconv.Itoa(c.pinNumber)).Inc()
		c.log.Debug().Err(err).Msg("software pwm write failed")
	}
}

// sleep waits for the given delay.
// Returns false when the context was canceled.
func (c *softwareChannel) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
