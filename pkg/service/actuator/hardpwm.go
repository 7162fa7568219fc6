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

	"github.com/pkg/errors"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/service/devices"
)

// hardwareChannel is one output of a hardware PWM controller (PCA9685).
// The chip generates the waveform; the channel only writes counts.
type hardwareChannel struct {
	dev    devices.PWM
	output int
}

// NewHardwareChannel wraps one output (1...) of the given PWM device.
// The device must already be configured for the intended carrier frequency.
func NewHardwareChannel(dev devices.PWM, output int) (Channel, error) {
	if output < 1 || output > dev.PWMPinCount() {
		return nil, errors.Wrapf(model.InvalidArgumentError, "output must be in 1..%d range, got %d", dev.PWMPinCount(), output)
	}
	return &hardwareChannel{
		dev:    dev,
		output: output,
	}, nil
}

// SetDutyCycle sets the fraction of each carrier period the output is high.
func (c *hardwareChannel) SetDutyCycle(ctx context.Context, dutyCycle float64) error {
	if math.IsNaN(dutyCycle) {
		return errors.Wrapf(model.InvalidArgumentError, "duty cycle is NaN on output %d", c.output)
	}
	if dutyCycle < 0 {
		dutyCycle = 0
	} else if dutyCycle > 1 {
		dutyCycle = 1
	}
	offValue := uint32(math.Round(dutyCycle * float64(c.dev.MaxPWMValue())))
	if err := c.dev.SetPWM(ctx, c.output, 0, offValue, dutyCycle > 0); err != nil {
		return errors.Wrapf(err, "failed to set output %d", c.output)
	}
	return nil
}

// Close forces the output low. The chip itself is owned and closed by the service.
func (c *hardwareChannel) Close(ctx context.Context) error {
	if err := c.dev.SetPWM(ctx, c.output, 0, 0, false); err != nil {
		return errors.Wrapf(err, "failed to disable output %d", c.output)
	}
	return nil
}
