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

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"errors"
	"fmt"

	"sv39.dev/sv39/pkg/abi/linux/errno"
	vmerrors "sv39.dev/sv39/pkg/errors"
)

// The errors below are the subset of errno values that page-table and
// user-memory operations can surface to callers.
var (
	noError      *vmerrors.Error = nil
	ENOENT                       = vmerrors.New(errno.ENOENT, "no such file or directory")
	ESRCH                        = vmerrors.New(errno.ESRCH, "no such process")
	EAGAIN                       = vmerrors.New(errno.EAGAIN, "resource temporarily unavailable")
	ENOMEM                       = vmerrors.New(errno.ENOMEM, "out of memory")
	EFAULT                       = vmerrors.New(errno.EFAULT, "bad address")
	EEXIST                       = vmerrors.New(errno.EEXIST, "file exists")
	EINVAL                       = vmerrors.New(errno.EINVAL, "invalid argument")
	ENAMETOOLONG                 = vmerrors.New(errno.ENAMETOOLONG, "file name too long")
)

var errorSlice = []*vmerrors.Error{
	errno.NOERRNO:      noError,
	errno.ENOENT:       ENOENT,
	errno.ESRCH:        ESRCH,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EFAULT:       EFAULT,
	errno.EEXIST:       EEXIST,
	errno.EINVAL:       EINVAL,
	errno.ENAMETOOLONG: ENAMETOOLONG,
}

// ErrorFromErrno gets an error from the list and panics if an invalid entry
// is requested.
func ErrorFromErrno(e errno.Errno) *vmerrors.Error {
	if int(e) >= len(errorSlice) || (e != errno.NOERRNO && errorSlice[e] == nil) {
		panic(fmt.Sprintf("invalid error requested with errno: %d", e))
	}
	return errorSlice[e]
}

// ToErrno returns the errno of err, or zero if err is nil or not an *Error.
func ToErrno(err error) errno.Errno {
	var e *vmerrors.Error
	if errors.As(err, &e) {
		return e.Errno()
	}
	return errno.NOERRNO
}

// Equals compares a linuxerr to a given error.
func Equals(e *vmerrors.Error, err error) bool {
	if err == nil {
		return e == noError || e == nil
	}
	var got *vmerrors.Error
	if !errors.As(err, &got) {
		return false
	}
	if e == nil {
		return got == nil
	}
	return got.Errno() == e.Errno()
}

