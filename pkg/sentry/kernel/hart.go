// Copyright 2019 The gVisor Authors.
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

package kernel

import (
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/ring0/pagetables"
)

// Hart is a supervisor-mode CPU. Its loads and stores are translated
// through whichever table was last installed.
//
// A Hart is owned by a single thread of control.
type Hart struct {
	k *Kernel

	// pt is the installed table, or nil.
	pt *pagetables.PageTables

	// flushes counts TLB flushes.
	flushes int
}

// Install writes satp to switch to pt and flushes the whole TLB.
func (h *Hart) Install(pt *pagetables.PageTables) {
	h.pt = pt
	h.flushes++
}

// Installed returns the installed table, or nil.
func (h *Hart) Installed() *pagetables.PageTables {
	return h.pt
}

// SATP returns the value of satp, or zero if no table is installed.
func (h *Hart) SATP() uint64 {
	if h.pt == nil {
		return 0
	}
	return h.pt.SATP()
}

// Flushes returns the number of TLB flushes performed.
func (h *Hart) Flushes() int {
	return h.flushes
}

// Read loads len(dst) bytes at virtual address va. It returns the number of
// bytes read and EFAULT if a page does not translate to RAM.
func (h *Hart) Read(va hostarch.Addr, dst []byte) (int, error) {
	return h.access(va, dst, hostarch.Read, func(frame, b []byte) int {
		return copy(b, frame)
	})
}

// Write stores src at virtual address va. It returns the number of bytes
// written and EFAULT if a page does not translate to writable RAM.
func (h *Hart) Write(va hostarch.Addr, src []byte) (int, error) {
	return h.access(va, src, hostarch.Write, func(frame, b []byte) int {
		return copy(frame, b)
	})
}

func (h *Hart) access(va hostarch.Addr, buf []byte, at hostarch.AccessType, fn func(frame, b []byte) int) (int, error) {
	if h.pt == nil {
		return 0, linuxerr.EFAULT
	}
	done := 0
	for done < len(buf) {
		addr := va + hostarch.Addr(done)
		if addr < va {
			return done, linuxerr.EFAULT
		}
		pa, ok := h.pt.Translate(addr, at)
		if !ok {
			return done, linuxerr.EFAULT
		}
		frame := pa &^ (hostarch.PageSize - 1)
		if !h.k.alloc.Contains(frame) {
			return done, linuxerr.EFAULT
		}
		off := int(pa - frame)
		done += fn(h.k.alloc.Frame(frame)[off:], buf[done:])
	}
	return done, nil
}
