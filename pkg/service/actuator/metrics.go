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
	"github.com/tigercar/CarWorker/pkg/metrics"
)

const (
	subSystem = "actuator"
)

var (
	// Number of Output calls per actuator
	outputsTotal = metrics.MustRegisterCounterVec(subSystem,
		"outputs_total",
		"Number of Output calls per actuator",
		"id")
	// Number of failed Output calls per actuator
	outputErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"output_errors_total",
		"Number of failed Output calls per actuator",
		"id")
	// Last applied demand value per actuator
	demandGauge = metrics.MustRegisterGaugeVec(subSystem,
		"demand",
		"Last applied demand value per actuator",
		"id")
	// Last applied duty cycle per actuator channel
	dutyCycleGauge = metrics.MustRegisterGaugeVec(subSystem,
		"duty_cycle",
		"Last applied duty cycle per actuator channel",
		"id", "channel")
	// Number of failed pin writes in the software pwm loop
	softwarePwmWriteErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"software_pwm_write_errors_total",
		"Number of failed pin writes in the software pwm loop",
		"pin")
)
