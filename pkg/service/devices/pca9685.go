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

package devices

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

type pca9685 struct {
	mutex     sync.Mutex
	bus       bridge.I2CBus
	address   byte
	frequency float64
}

const (
	pca9685MODE1Reg      = 0x00
	pca9685LEDBaseReg    = 0x06
	pca9685PRESCALEReg   = 0xFE
	pca9685OnLowRegOfs   = 0
	pca9685OnHighRegOfs  = 1
	pca9685OffLowRegOfs  = 2
	pca9685OffHighRegOfs = 3
	pca9685RegIncrement  = 4

	pca9685OscillatorHz = 25000000.0
	pca9685Resolution   = 4096
)

// NewPCA9685 creates a PWM instance for a pca9685 controller at the given
// address, generating the given carrier frequency on all outputs.
func NewPCA9685(address byte, frequency float64, bus bridge.I2CBus) (PWM, error) {
	if bus == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "i2c bus is required")
	}
	return &pca9685{
		bus:       bus,
		address:   address,
		frequency: frequency,
	}, nil
}

// Configure is called once to put the device in the desired state.
func (d *pca9685) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	freq := d.frequency
	freq *= 0.9 // Correct for overshoot in the frequency setting.
	prescaleval := pca9685OscillatorHz
	prescaleval /= pca9685Resolution
	prescaleval /= freq
	prescaleval -= 1.0
	prescale := math.Floor(prescaleval + 0.5)
	// Hardware limits of the prescale register.
	if prescale < 3 || math.IsNaN(prescale) || math.IsInf(prescale, 0) {
		prescale = 3
	} else if prescale > 255 {
		prescale = 255
	}

	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		// Set MODE1: SLEEP=1, ALLCALL=1 (prescale can only be set while asleep)
		if err := dev.WriteByteReg(pca9685MODE1Reg, 0x11); err != nil {
			return err
		}
		if err := dev.WriteByteReg(pca9685PRESCALEReg, uint8(prescale)); err != nil {
			return err
		}
		// Set MODE1: SLEEP=0, ALLCALL=1
		if err := dev.WriteByteReg(pca9685MODE1Reg, 0x01); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return errors.Wrapf(err, "failed to configure pca9685[0x%0x]", d.address)
	}
	return nil
}

// Close brings the device back to a safe state.
func (d *pca9685) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// Set MODE1: SLEEP=1, ALLCALL=1; stops the oscillator, all outputs low.
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		return dev.WriteByteReg(pca9685MODE1Reg, 0x11)
	}); err != nil {
		return errors.Wrapf(err, "failed to close pca9685[0x%0x]", d.address)
	}
	return nil
}

// PWMPinCount returns the number of PWM output pins of the device
func (d *pca9685) PWMPinCount() int {
	return 16
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *pca9685) MaxPWMValue() uint32 {
	return pca9685Resolution - 1
}

// SetPWM the output at given index (1...) to the given value
func (d *pca9685) SetPWM(ctx context.Context, output int, onValue, offValue uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	regBase, err := d.regBase(output)
	if err != nil {
		return err
	}
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		onLow := uint8(onValue & 0xFF)
		if err := dev.WriteByteReg(uint8(regBase+pca9685OnLowRegOfs), onLow); err != nil {
			return err
		}
		onHigh := uint8((onValue >> 8) & 0x0F)
		if err := dev.WriteByteReg(uint8(regBase+pca9685OnHighRegOfs), onHigh); err != nil {
			return err
		}
		offLow := uint8(offValue & 0xFF)
		if err := dev.WriteByteReg(uint8(regBase+pca9685OffLowRegOfs), offLow); err != nil {
			return err
		}
		offHigh := uint8((offValue >> 8) & 0x0F)
		if !enabled {
			offHigh = offHigh | 0b00010000 // Full off
		}
		if err := dev.WriteByteReg(uint8(regBase+pca9685OffHighRegOfs), offHigh); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return errors.Wrapf(err, "failed to set pca9685[0x%0x] output %d", d.address, output)
	}
	return nil
}

// GetPWM the output at given index (1...)
// Returns onValue,offValue,enabled,error
func (d *pca9685) GetPWM(ctx context.Context, output int) (uint32, uint32, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	regBase, err := d.regBase(output)
	if err != nil {
		return 0, 0, false, err
	}
	var on, off uint32
	var enabled bool
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		onLow, err := dev.ReadByteReg(uint8(regBase + pca9685OnLowRegOfs))
		if err != nil {
			return err
		}
		onHigh, err := dev.ReadByteReg(uint8(regBase + pca9685OnHighRegOfs))
		if err != nil {
			return err
		}
		offLow, err := dev.ReadByteReg(uint8(regBase + pca9685OffLowRegOfs))
		if err != nil {
			return err
		}
		offHigh, err := dev.ReadByteReg(uint8(regBase + pca9685OffHighRegOfs))
		if err != nil {
			return err
		}
		on = uint32(onLow) | (uint32(onHigh&0b00001111) << 8)
		off = uint32(offLow) | (uint32(offHigh&0b00001111) << 8)
		enabled = offHigh&0b00010000 == 0
		return nil
	}); err != nil {
		return 0, 0, false, errors.Wrapf(err, "failed to get pca9685[0x%0x] output %d", d.address, output)
	}
	return on, off, enabled, nil
}

// regBase returns the first register for the given output.
func (d *pca9685) regBase(output int) (int, error) {
	if output < 1 || output > 16 {
		return 0, errors.Wrapf(model.InvalidArgumentError, "output must be in 1..16 range, got %d", output)
	}
	return pca9685LEDBaseReg + ((output - 1) * pca9685RegIncrement), nil
}
