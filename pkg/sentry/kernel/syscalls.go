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

package kernel

import (
	"encoding/binary"

	"sv39.dev/sv39/pkg/hostarch"
)

// SysinfoResult is the record copied out by Sysinfo.
type SysinfoResult struct {
	// FreeMem is the number of free bytes of RAM.
	FreeMem uint64

	// NProc is the number of live processes.
	NProc uint64
}

// Sbrk grows or shrinks p's address space by n bytes and returns the old
// size.
func Sbrk(p *Process, n int64) (uint64, error) {
	size := p.Size()
	if err := p.Grow(n); err != nil {
		return 0, err
	}
	return size, nil
}

// Sysinfo copies a SysinfoResult, little-endian, to addr in p's address
// space.
func Sysinfo(p *Process, addr hostarch.Addr) error {
	info := SysinfoResult{
		FreeMem: p.k.alloc.FreeBytes(),
		NProc:   uint64(p.k.NumProcs()),
	}
	buf, err := binary.Append(nil, binary.LittleEndian, &info)
	if err != nil {
		return err
	}
	_, err = p.CopyOut(addr, buf)
	return err
}

// Fork duplicates p and returns the child's pid.
func Fork(p *Process) (int, error) {
	child, err := p.Fork()
	if err != nil {
		return 0, err
	}
	return child.PID(), nil
}
