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

// Package pgalloc contains the physical frame allocator.
//
// Physical memory is modelled as a byte arena covering [Base, Base+Size).
// Frames are handed out one page at a time from the range above the
// reserved kernel image, lowest address first.
package pgalloc

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
)

const (
	// freeJunk fills frames on Free, so reads through dangling mappings
	// are visible.
	freeJunk = 0x01

	// allocJunk fills frames on Allocate, so callers that forget to zero
	// are visible.
	allocJunk = 0x05

	// btreeDegree is the degree of the free-frame tree.
	btreeDegree = 32
)

// AllocatorOpts configures an Allocator.
type AllocatorOpts struct {
	// Base is the physical address of the first byte of RAM. It must be
	// page aligned.
	Base uintptr

	// Size is the number of bytes of RAM. It must be page aligned.
	Size uintptr

	// Reserved is the number of bytes at Base that are never handed out,
	// i.e. the kernel image.
	Reserved uintptr
}

// Allocator hands out page-sized physical frames. It is safe for
// concurrent use.
type Allocator struct {
	opts AllocatorOpts

	// mem is physical memory. mem[0] is at opts.Base.
	mem []byte

	mu sync.Mutex

	// free is the set of free frame addresses.
	//
	// +checklocks:mu
	free *btree.BTreeG[uintptr]
}

// NewAllocator returns an Allocator with every frame above the reserved
// region free.
func NewAllocator(opts AllocatorOpts) (*Allocator, error) {
	if !hostarch.Addr(opts.Base).IsPageAligned() || !hostarch.Addr(opts.Size).IsPageAligned() {
		return nil, fmt.Errorf("unaligned RAM [%#x, +%#x)", opts.Base, opts.Size)
	}
	reserved, ok := hostarch.Addr(opts.Reserved).RoundUp()
	if !ok || uintptr(reserved) >= opts.Size {
		return nil, fmt.Errorf("reserved region %#x does not fit in %#x bytes of RAM", opts.Reserved, opts.Size)
	}
	opts.Reserved = uintptr(reserved)

	a := &Allocator{
		opts: opts,
		mem:  make([]byte, opts.Size),
		free: btree.NewG(btreeDegree, func(a, b uintptr) bool { return a < b }),
	}
	for pa := opts.Base + opts.Reserved; pa < opts.Base+opts.Size; pa += hostarch.PageSize {
		a.free.ReplaceOrInsert(pa)
	}
	log.Debugf("pgalloc: %d frames free in [%#x, %#x)", a.free.Len(), opts.Base+opts.Reserved, opts.Base+opts.Size)
	return a, nil
}

// Allocate returns the lowest free frame. Its contents are junk; callers
// that need a zeroed frame must clear it. Returns ENOMEM when no frame is
// free.
func (a *Allocator) Allocate() (uintptr, error) {
	a.mu.Lock()
	pa, ok := a.free.DeleteMin()
	a.mu.Unlock()
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	fill(a.Frame(pa), allocJunk)
	return pa, nil
}

// Free returns a frame to the free set. Freeing an unaligned address, an
// address outside the allocatable range, or a frame that is already free
// panics.
func (a *Allocator) Free(pa uintptr) {
	if !hostarch.Addr(pa).IsPageAligned() || pa < a.opts.Base+a.opts.Reserved || pa >= a.opts.Base+a.opts.Size {
		panic(fmt.Sprintf("pgalloc: free of bad frame %#x", pa))
	}
	fill(a.Frame(pa), freeJunk)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.free.ReplaceOrInsert(pa); dup {
		panic(fmt.Sprintf("pgalloc: double free of frame %#x", pa))
	}
}

// Frame returns the bytes of the frame at pa. The slice aliases physical
// memory.
func (a *Allocator) Frame(pa uintptr) []byte {
	if !hostarch.Addr(pa).IsPageAligned() || !a.Contains(pa) {
		panic(fmt.Sprintf("pgalloc: frame %#x outside RAM", pa))
	}
	off := pa - a.opts.Base
	return a.mem[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Contains reports whether pa lies in RAM.
func (a *Allocator) Contains(pa uintptr) bool {
	return pa >= a.opts.Base && pa-a.opts.Base < a.opts.Size
}

// IsFree reports whether the frame at pa is in the free set.
func (a *Allocator) IsFree(pa uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.Has(pa)
}

// FreeFrames returns the number of free frames.
func (a *Allocator) FreeFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.Len()
}

// FreeBytes returns the number of free bytes.
func (a *Allocator) FreeBytes() uint64 {
	return uint64(a.FreeFrames()) * hostarch.PageSize
}

// TotalFrames returns the number of allocatable frames.
func (a *Allocator) TotalFrames() int {
	return int((a.opts.Size - a.opts.Reserved) / hostarch.PageSize)
}

func fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for n := 1; n < len(b); n *= 2 {
		copy(b[n:], b[:n])
	}
}
