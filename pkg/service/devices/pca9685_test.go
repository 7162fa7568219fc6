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
	"testing"

	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

// fakeBus keeps the register file of one device in memory.
type fakeBus struct {
	regs map[uint8]uint8
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: make(map[uint8]uint8)}
}

func (b *fakeBus) Execute(ctx context.Context, address uint8, op func(context.Context, bridge.I2CDevice) error) error {
	return op(ctx, b)
}

func (b *fakeBus) DetectSlaveAddresses() []byte { return nil }

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) ReadByteReg(reg uint8) (uint8, error) {
	return b.regs[reg], nil
}

func (b *fakeBus) WriteByteReg(reg uint8, val uint8) error {
	b.regs[reg] = val
	return nil
}

func TestPCA9685Configure(t *testing.T) {
	bus := newFakeBus()
	dev, err := NewPCA9685(0x40, 50, bus)
	if err != nil {
		t.Fatalf("NewPCA9685 failed: %v", err)
	}
	if err := dev.Configure(context.Background()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	// Prescale for a 50 Hz carrier with the 0.9 frequency correction.
	if got := bus.regs[pca9685PRESCALEReg]; got != 135 {
		t.Errorf("prescale register = %d, want 135", got)
	}
	// Device must be awake after configuration.
	if got := bus.regs[pca9685MODE1Reg]; got != 0x01 {
		t.Errorf("MODE1 register = 0x%02x, want 0x01", got)
	}
}

func TestPCA9685SetGetPWM(t *testing.T) {
	bus := newFakeBus()
	dev, err := NewPCA9685(0x40, 50, bus)
	if err != nil {
		t.Fatalf("NewPCA9685 failed: %v", err)
	}
	ctx := context.Background()

	if err := dev.SetPWM(ctx, 1, 0, 2048, true); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	on, off, enabled, err := dev.GetPWM(ctx, 1)
	if err != nil {
		t.Fatalf("GetPWM failed: %v", err)
	}
	if on != 0 || off != 2048 || !enabled {
		t.Errorf("GetPWM = (%d, %d, %v), want (0, 2048, true)", on, off, enabled)
	}

	// Disabling sets the full-off bit without touching the counts.
	if err := dev.SetPWM(ctx, 1, 0, 2048, false); err != nil {
		t.Fatalf("SetPWM(disabled) failed: %v", err)
	}
	_, off, enabled, err = dev.GetPWM(ctx, 1)
	if err != nil {
		t.Fatalf("GetPWM failed: %v", err)
	}
	if off != 2048 || enabled {
		t.Errorf("GetPWM = (%d, %v), want (2048, false)", off, enabled)
	}
}

func TestPCA9685OutputRange(t *testing.T) {
	dev, err := NewPCA9685(0x40, 50, newFakeBus())
	if err != nil {
		t.Fatalf("NewPCA9685 failed: %v", err)
	}
	ctx := context.Background()
	for _, output := range []int{0, 17, -1} {
		if err := dev.SetPWM(ctx, output, 0, 0, true); err == nil {
			t.Errorf("expected error for output %d", output)
		}
	}
	if dev.PWMPinCount() != 16 {
		t.Errorf("PWMPinCount = %d, want 16", dev.PWMPinCount())
	}
	if dev.MaxPWMValue() != 4095 {
		t.Errorf("MaxPWMValue = %d, want 4095", dev.MaxPWMValue())
	}
}
