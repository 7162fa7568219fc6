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

package bridge

import (
	"fmt"
	"sync"
	"time"
)

// VirtualBridge implements the bridge without hardware.
// Output pins keep their last written value in memory, so it can be
// used for development runs off the vehicle and in tests.
type VirtualBridge struct {
	mutex sync.Mutex
	pins  map[int]*virtualPin
}

type virtualPin struct {
	mutex sync.Mutex
	value bool
}

func (p *virtualPin) Write(value bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.value = value
	return nil
}

// Get returns the last written logical value of the pin.
func (p *virtualPin) Get() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.value
}

// NewVirtualBridge implements the bridge for a worker without hardware attached.
func NewVirtualBridge() (*VirtualBridge, error) {
	return &VirtualBridge{
		pins: make(map[int]*virtualPin),
	}, nil
}

// Returns number of local GPIO pins
func (p *VirtualBridge) PinCount() int {
	return 17
}

// Output initializes a GPIO output pin with the given pin number
// and initial logical value.
func (p *VirtualBridge) Output(pinNumber int, activeLow bool, initialValue bool) (OutputPin, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, found := p.pins[pinNumber]; found {
		return nil, fmt.Errorf("pin %d is already in use", pinNumber)
	}
	pin := &virtualPin{value: initialValue}
	p.pins[pinNumber] = pin
	return pin, nil
}

// PinValue returns the last written value of the given pin.
func (p *VirtualBridge) PinValue(pinNumber int) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	pin, found := p.pins[pinNumber]
	if !found {
		return false, fmt.Errorf("pin %d is not in use", pinNumber)
	}
	return pin.Get(), nil
}

// Turn Green status led on/off
func (p *VirtualBridge) SetGreenLED(on bool) error {
	return nil
}

// Turn Red status led on/off
func (p *VirtualBridge) SetRedLED(on bool) error {
	return nil
}

// Blink Green status led with given duration between on/off
func (p *VirtualBridge) BlinkGreenLED(delay time.Duration) error {
	return nil
}

// Blink Red status led with given duration between on/off
func (p *VirtualBridge) BlinkRedLED(delay time.Duration) error {
	return nil
}

// Open the I2C bus
func (p *VirtualBridge) I2CBus() (I2CBus, error) {
	return nil, fmt.Errorf("virtual bridge has no I2C bus")
}

func (p *VirtualBridge) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pins = make(map[int]*virtualPin)
	return nil
}
