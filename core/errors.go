// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package core

import (
	"fmt"
)

type Problem interface {
	IsFatal() bool
	Error() string
}

// SyntaxError reports input that couldn't be parsed at all.
type SyntaxError struct {
	Msg string
}

func NewSyntaxError(s string, args ...interface{}) *SyntaxError {
	return &SyntaxError{fmt.Sprintf(s, args...)}
}

func (e *SyntaxError) Error() string {
	return e.Msg
}

func (e *SyntaxError) IsFatal() bool {
	return true
}

func (e *SyntaxError) String() string {
	return "SyntaxError: " + e.Msg
}

// NotFoundError reports a lookup that found nothing.
type NotFoundError struct {
	Msg string
}

func NewNotFoundError(s string, args ...interface{}) *NotFoundError {
	return &NotFoundError{fmt.Sprintf(s, args...)}
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Msg
}

func (e *NotFoundError) IsFatal() bool {
	// I guess.
	return false
}

func (e *NotFoundError) String() string {
	return "NotFoundError: " + e.Msg
}

// InvalidInputError reports structurally bad user input: a request
// that parsed but doesn't make sense.
type InvalidInputError struct {
	Msg string
}

func NewInvalidInputError(s string, args ...interface{}) *InvalidInputError {
	return &InvalidInputError{fmt.Sprintf(s, args...)}
}

func (e *InvalidInputError) Error() string {
	return e.Msg
}

func (e *InvalidInputError) IsFatal() bool {
	return false
}

func (e *InvalidInputError) String() string {
	return "InvalidInputError: " + e.Msg
}
