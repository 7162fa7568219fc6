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

package model

import (
	"github.com/pkg/errors"
)

var (
	// ValidationError indicates an invalid configuration.
	ValidationError = errors.New("validation failed")
	// InvalidArgumentError indicates a caller contract violation.
	InvalidArgumentError = errors.New("invalid argument")

	maskAny = errors.WithStack
)

// IsValidation returns true when the given error is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	return errors.Cause(err) == ValidationError
}

// IsInvalidArgument returns true when the given error is (or wraps) an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	return errors.Cause(err) == InvalidArgumentError
}
