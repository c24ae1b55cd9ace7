// Copyright 2018 The gVisor Authors.
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

// Package errors defines the errno-carrying error returned by the memory
// subsystem. Predeclared values live in package linuxerr.
package errors

import (
	"sv39.dev/sv39/pkg/abi/linux/errno"
)

// Error pairs an errno with the text reported to callers.
type Error struct {
	errno   errno.Errno
	message string
}

// New returns an *Error for no with the given message.
func New(no errno.Errno, message string) *Error {
	return &Error{errno: no, message: message}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the errno carried by e.
func (e *Error) Errno() errno.Errno { return e.errno }

// Is reports whether target carries the same errno, so that errors.Is
// matches distinct *Error values created for one errno.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t != nil && e != nil && t.errno == e.errno
}
