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
	"context"
	"fmt"
	"runtime"
	"strconv"

	aerr "github.com/ewoutp/go-aggregate-error"

	"github.com/tigercar/CarWorker/pkg/service/util"
)

// I2CBus serializes all access to devices on one physical I2C bus.
type I2CBus interface {
	// Execute an operation on the device with the given address.
	Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error
	// DetectSlaveAddresses probes the bus to detect available addresses.
	DetectSlaveAddresses() []byte
	// Close the bus and all devices on it
	Close() error
}

// I2CDevice communicates with a device on the I2C Bus that has a specific address.
type I2CDevice interface {
	// Read a byte from given register
	ReadByteReg(reg uint8) (uint8, error)
	// Write a byte to given register
	WriteByteReg(reg uint8, val uint8) (err error)
}

type i2cBus struct {
	location string
	devices  map[uint8]*i2cDevice
	queue    chan func()
}

// NewI2CBus returns accessors to the I2C bus at the given location.
func NewI2CBus(location string) (I2CBus, error) {
	b := &i2cBus{
		location: location,
		devices:  make(map[uint8]*i2cDevice),
		queue:    make(chan func()),
	}
	go b.queueProcessor(context.Background())
	return b, nil
}

// Execute an operation on the bus.
func (b *i2cBus) Execute(ctx context.Context, address uint8, op func(context.Context, I2CDevice) error) error {
	// Prepare result
	l := util.SpinLock{}
	done := false
	var result error

	// Prepare request
	req := func() {
		// Execute actual operation
		err := b.execute(ctx, address, op)

		// Store result
		l.Lock()
		result = err
		done = true
		l.Unlock()
	}

	// Put request in queue
	select {
	case b.queue <- req:
		// Request is on the queue
	case <-ctx.Done():
		// Context canceled
		return ctx.Err()
	}

	// Wait until result is available
	for {
		l.Lock()
		isDone := done
		l.Unlock()

		if isDone {
			return result
		}
	}
}

// Process bus requests from the queue until the given context is canceled.
func (b *i2cBus) queueProcessor(ctx context.Context) {
	// Ensure we're always using the same OS thread
	runtime.LockOSThread()

	// Process the queue
	for {
		select {
		case req, ok := <-b.queue:
			if ok {
				// Execute the given request
				req()
			} else {
				// Queue closed
				return
			}
		case <-ctx.Done():
			// Context canceled
			return
		}
	}
}

// execute runs the given operation; on failure all open devices are closed
// so the next operation starts from a fresh file handle.
func (b *i2cBus) execute(ctx context.Context, address uint8, op func(context.Context, I2CDevice) error) error {
	i2cExecuteCounters.WithLabelValues(strconv.Itoa(int(address))).Inc()

	// Open device
	dev, err := b.openDevice(address)
	if err != nil {
		i2cExecuteErrorCounters.WithLabelValues(strconv.Itoa(int(address))).Inc()
		return fmt.Errorf("openDevice(%d) failed: %w", address, err)
	}

	// Execute operation
	if err := op(ctx, dev); err != nil {
		// Device call failed, close all devices
		for _, d := range b.devices {
			d.closeFile()
		}
		clear(b.devices)
		i2cExecuteErrorCounters.WithLabelValues(strconv.Itoa(int(address))).Inc()
		return fmt.Errorf("execute operation on i2c bus failed: %w", err)
	}
	return nil
}

// Open a connection to a device at the given address.
func (b *i2cBus) openDevice(address uint8) (*i2cDevice, error) {
	// Did we already open the device?
	if d, found := b.devices[address]; found {
		return d, nil
	}

	// Open new device
	d, err := newI2CDevice(b, b.location, address)
	if err != nil {
		return nil, err
	}

	// Register device
	b.devices[address] = d

	return d, nil
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *i2cBus) DetectSlaveAddresses() []byte {
	var result []byte
	for addr := uint8(1); addr < 128; addr++ {
		if d, err := newI2CDevice(b, b.location, addr); err == nil {
			if err := d.DetectDevice(); err == nil {
				result = append(result, addr)
			}
			d.closeFile()
		}
	}
	return result
}

// Close the bus and all devices on it
func (b *i2cBus) Close() error {
	done := false
	l := util.SpinLock{}
	var ae aerr.AggregateError
	b.queue <- func() {
		// Set done on exit
		defer func() {
			l.Lock()
			done = true
			l.Unlock()
		}()

		// Capture all devices
		devices := make([]*i2cDevice, 0, len(b.devices))
		for _, d := range b.devices {
			devices = append(devices, d)
		}

		// Close all collected devices
		for _, d := range devices {
			if err := d.closeFile(); err != nil {
				ae.Add(err)
			}
			delete(b.devices, d.address)
		}
	}

	// Wait until ready
	for {
		l.Lock()
		isDone := done
		l.Unlock()
		if isDone {
			return ae.AsError()
		}
	}
}
