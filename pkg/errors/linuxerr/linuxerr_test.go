// Copyright 2021 The gVisor Authors.
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

package linuxerr

import (
	"fmt"
	"testing"

	"sv39.dev/sv39/pkg/abi/linux/errno"
	vmerrors "sv39.dev/sv39/pkg/errors"
)

func TestErrorFromErrno(t *testing.T) {
	for _, want := range []*vmerrors.Error{ENOENT, ESRCH, EAGAIN, ENOMEM, EFAULT, EEXIST, EINVAL, ENAMETOOLONG} {
		if got := ErrorFromErrno(want.Errno()); got != want {
			t.Errorf("ErrorFromErrno(%d) = %v, want %v", want.Errno(), got, want)
		}
	}
	if got := ErrorFromErrno(errno.NOERRNO); got != nil {
		t.Errorf("ErrorFromErrno(NOERRNO) = %v, want nil", got)
	}
}

func TestErrorFromErrnoPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("ErrorFromErrno did not panic on an unknown errno")
		}
	}()
	ErrorFromErrno(errno.Errno(len(errorSlice)))
}

func TestEquals(t *testing.T) {
	wrapped := fmt.Errorf("grow: %w", ENOMEM)
	for _, tc := range []struct {
		name string
		e    *vmerrors.Error
		err  error
		want bool
	}{
		{"same", EFAULT, EFAULT, true},
		{"different", EFAULT, ENOMEM, false},
		{"wrapped", ENOMEM, wrapped, true},
		{"nil", nil, nil, true},
		{"nil against error", nil, EFAULT, false},
		{"error against nil", EFAULT, nil, false},
		{"foreign", EFAULT, fmt.Errorf("bad address"), false},
		{"same errno", ENOMEM, vmerrors.New(errno.ENOMEM, "no frames"), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(tc.e, tc.err); got != tc.want {
				t.Errorf("Equals(%v, %v) = %t, want %t", tc.e, tc.err, got, tc.want)
			}
		})
	}
}

func TestToErrno(t *testing.T) {
	if got := ToErrno(fmt.Errorf("copy: %w", EFAULT)); got != errno.EFAULT {
		t.Errorf("ToErrno(wrapped EFAULT) = %d, want %d", got, errno.EFAULT)
	}
	if got := ToErrno(nil); got != errno.NOERRNO {
		t.Errorf("ToErrno(nil) = %d", got)
	}
}
