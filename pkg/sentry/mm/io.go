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

package mm

import (
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/ring0/pagetables"
	"sv39.dev/sv39/pkg/usermem"
)

// CopyOut copies src to the user memory at addr, resolving one page at a
// time through WalkAddr. It returns the number of bytes copied and EFAULT if
// a page is not mapped for user access. Bytes copied before the fault
// remain written.
func CopyOut(pt *pagetables.PageTables, addr hostarch.Addr, src []byte) (int, error) {
	done := 0
	for done < len(src) {
		page := addr.RoundDown()
		pa, ok := pt.WalkAddr(page)
		if !ok {
			return done, linuxerr.EFAULT
		}
		done += copy(pt.Allocator.Frame(pa)[addr-page:], src[done:])
		addr = page + hostarch.PageSize
	}
	return done, nil
}

// CopyIn copies the user memory at addr to dst. It is the inverse of
// CopyOut.
func CopyIn(pt *pagetables.PageTables, addr hostarch.Addr, dst []byte) (int, error) {
	done := 0
	for done < len(dst) {
		page := addr.RoundDown()
		pa, ok := pt.WalkAddr(page)
		if !ok {
			return done, linuxerr.EFAULT
		}
		done += copy(dst[done:], pt.Allocator.Frame(pa)[addr-page:])
		addr = page + hostarch.PageSize
	}
	return done, nil
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes from
// the user memory at addr. See usermem.CopyStringIn.
func CopyInString(pt *pagetables.PageTables, addr hostarch.Addr, maxlen int) (string, error) {
	return usermem.CopyStringIn(tableIO{pt}, addr, maxlen)
}

// tableIO implements usermem.IO by walking a user table in software.
type tableIO struct {
	pt *pagetables.PageTables
}

// CopyOut implements usermem.IO.CopyOut.
func (t tableIO) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return CopyOut(t.pt, addr, src)
}

// CopyIn implements usermem.IO.CopyIn.
func (t tableIO) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return CopyIn(t.pt, addr, dst)
}
