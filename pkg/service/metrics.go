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

package service

import (
	"github.com/tigercar/CarWorker/pkg/metrics"
)

const (
	subSystem = "service"
)

var (
	// Number of commands received per actuator
	commandsTotal = metrics.MustRegisterCounterVec(subSystem,
		"commands_total",
		"Number of commands received per actuator",
		"actuator")
	// Number of failed commands per actuator
	commandErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"command_errors_total",
		"Number of failed commands per actuator",
		"actuator")
	// Number of messages that could not be decoded into a command
	commandDecodeErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"command_decode_errors_total",
		"Number of messages that could not be decoded into a command")
	// Number of failed publications of actual state
	actualPublishErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"actual_publish_errors_total",
		"Number of failed publications of actual state")
)
