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
	"sync"
)

// Handle gives multiple goroutines safe, serialized access to one Driver.
// At most one Output call is in flight per actuator at any time; calls
// are applied in the order the guard is acquired, without coalescing.
// Guard acquisition has no timeout; a caller blocks until the lock is free.
type Handle struct {
	mutex  sync.Mutex
	driver *Driver
}

// NewHandle wraps the given driver.
// The handle takes over ownership; all further access must go through it.
func NewHandle(driver *Driver) *Handle {
	return &Handle{
		driver: driver,
	}
}

// Output acquires the guard, applies the given demand value and releases
// the guard. Errors of the underlying driver are propagated unchanged.
func (h *Handle) Output(ctx context.Context, value float64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.driver.Output(ctx, value)
}

// State returns a snapshot of the last successfully applied output.
func (h *Handle) State() State {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.driver.State()
}

// Close zeroes the actuator and releases its channels.
// Serialized with Output through the same guard; closing twice is a no-op.
func (h *Handle) Close(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.driver.Close(ctx)
}
