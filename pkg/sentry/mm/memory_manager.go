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
	"fmt"

	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/ring0/pagetables"
	"sv39.dev/sv39/pkg/usermem"
)

// MemoryManager implements a user address space, optionally mirrored into a
// per-process kernel table.
//
// The mirror, when present, aliases exactly the pages of [0, size) at the
// same addresses. Every size change updates both tables before returning,
// so the mirror never references a frame the user table has freed.
//
// A MemoryManager is owned by a single thread of control.
type MemoryManager struct {
	// pt is the user table. It owns every frame in [0, size).
	pt *pagetables.PageTables

	// mirror is the kernel mirror, or nil.
	mirror *pagetables.PageTables

	// size is the address space size in bytes.
	size uint64
}

// NewMemoryManager returns an empty address space over pt. If mirror is not
// nil, it is kept in step with pt.
func NewMemoryManager(pt, mirror *pagetables.PageTables) *MemoryManager {
	return &MemoryManager{
		pt:     pt,
		mirror: mirror,
	}
}

// PageTables returns the user table.
func (mm *MemoryManager) PageTables() *pagetables.PageTables {
	return mm.pt
}

// Mirror returns the kernel mirror, or nil.
func (mm *MemoryManager) Mirror() *pagetables.PageTables {
	return mm.mirror
}

// Size returns the address space size.
func (mm *MemoryManager) Size() uint64 {
	return mm.size
}

// Grow extends the address space to newSize. If the mirror cannot be
// extended, the user growth is undone and the error returned.
func (mm *MemoryManager) Grow(newSize uint64) error {
	oldSize := mm.size
	sz, err := Grow(mm.pt, oldSize, newSize)
	if err != nil {
		return err
	}
	if mm.mirror != nil && sz > oldSize {
		if err := MirrorRange(mm.pt, mm.mirror, oldSize, sz); err != nil {
			Shrink(mm.pt, sz, oldSize)
			return err
		}
	}
	mm.size = sz
	return nil
}

// Shrink reduces the address space to newSize. The mirror aliases are
// removed before the user frames are freed.
func (mm *MemoryManager) Shrink(newSize uint64) {
	if newSize >= mm.size {
		return
	}
	if mm.mirror != nil {
		UnmirrorRange(mm.mirror, newSize, mm.size)
	}
	mm.size = Shrink(mm.pt, mm.size, newSize)
}

// Resize grows or shrinks the address space by delta bytes, as sbrk does.
func (mm *MemoryManager) Resize(delta int64) error {
	if delta >= 0 {
		return mm.Grow(mm.size + uint64(delta))
	}
	if uint64(-delta) > mm.size {
		panic(fmt.Sprintf("resize: shrinking %#x bytes by %#x", mm.size, -delta))
	}
	mm.Shrink(mm.size - uint64(-delta))
	return nil
}

// Load maps a single zeroed page at address zero holding src.
//
// Precondition: the address space is empty and len(src) < PageSize.
func (mm *MemoryManager) Load(src []byte) error {
	if mm.size != 0 {
		panic(fmt.Sprintf("load: address space already holds %#x bytes", mm.size))
	}
	if len(src) >= hostarch.PageSize {
		panic(fmt.Sprintf("load: %d bytes is more than a page", len(src)))
	}
	if err := mm.Grow(hostarch.PageSize); err != nil {
		return err
	}
	if _, err := mm.CopyOut(0, src); err != nil {
		panic(fmt.Sprintf("load: copy into fresh page failed: %v", err))
	}
	return nil
}

// Fork copies this address space into dst, which must be empty.
func (mm *MemoryManager) Fork(dst *MemoryManager) error {
	if dst.size != 0 {
		panic(fmt.Sprintf("fork: destination already holds %#x bytes", dst.size))
	}
	if err := Duplicate(mm.pt, dst.pt, mm.size); err != nil {
		return err
	}
	if dst.mirror != nil {
		if err := MirrorRange(dst.pt, dst.mirror, 0, mm.size); err != nil {
			Shrink(dst.pt, mm.size, 0)
			return err
		}
	}
	dst.size = mm.size
	log.Debugf("mm: forked %#x bytes", mm.size)
	return nil
}

// Release frees every user frame and table. Mirror aliases are removed
// first; the mirror table itself belongs to the caller.
//
// Precondition: mappings outside [0, size) have been removed from the user
// table.
func (mm *MemoryManager) Release() {
	if mm.mirror != nil {
		UnmirrorRange(mm.mirror, 0, mm.size)
	}
	Destroy(mm.pt, mm.size)
	mm.size = 0
	mm.pt = nil
}

// CopyOut implements usermem.IO.CopyOut by walking the user table.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return CopyOut(mm.pt, addr, src)
}

// CopyIn implements usermem.IO.CopyIn by walking the user table.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return CopyIn(mm.pt, addr, dst)
}

// CopyInString copies a NUL-terminated string from user memory.
func (mm *MemoryManager) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	return usermem.CopyStringIn(mm, addr, maxlen)
}
