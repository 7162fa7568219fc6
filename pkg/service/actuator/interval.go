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

// MapRange rescales input from the interval (aLo, aHi) to the interval
// (bLo, bHi) with a pure affine transform. No bounds checking or clamping
// is performed; the caller must guarantee that input lies within (aLo, aHi)
// and that aHi != aLo.
func MapRange(input, aLo, aHi, bLo, bHi float64) float64 {
	return (input-aLo)*(bHi-bLo)/(aHi-aLo) + bLo
}
