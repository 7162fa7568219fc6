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

import "context"

// Channel is a unipolar duty cycle sink: one of the two outputs of a
// bipolar actuator. Implementations generate a PWM waveform at a fixed
// carrier frequency; only the duty cycle can be changed.
type Channel interface {
	// SetDutyCycle sets the fraction of each carrier period the output
	// is high. Values outside [0,1] are clamped; NaN yields an error.
	SetDutyCycle(ctx context.Context, dutyCycle float64) error
	// Close forces the output low and releases the underlying resource.
	Close(ctx context.Context) error
}
