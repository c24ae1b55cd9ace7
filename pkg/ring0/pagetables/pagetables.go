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

// Package pagetables provides an implementation of Sv39 page tables.
//
// Page tables live in frames handed out by a FrameAllocator; each table is
// a typed view over the bytes of one frame, so a tree built here is laid
// out exactly as the hardware walker would read it.
package pagetables

import (
	"fmt"

	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
)

// FrameAllocator supplies the frames that hold page tables and data.
type FrameAllocator interface {
	// Allocate returns a frame whose contents are unspecified.
	Allocate() (uintptr, error)

	// Free releases a frame returned by Allocate.
	Free(addr uintptr)

	// Frame returns the bytes of the frame at addr.
	Frame(addr uintptr) []byte
}

// PageTables is a set of page tables.
//
// PageTables are owned by a single thread of control and are not
// internally synchronized.
type PageTables struct {
	// Allocator is used to allocate tables and to reach frame contents.
	Allocator FrameAllocator

	// root is the page table root. It is nil once released.
	root *PTEs

	// rootPhysical is the physical address of root.
	rootPhysical uintptr
}

// New returns new PageTables with an empty root.
func New(a FrameAllocator) (*PageTables, error) {
	pa, err := a.Allocate()
	if err != nil {
		return nil, err
	}
	p := &PageTables{
		Allocator:    a,
		rootPhysical: pa,
	}
	p.root = p.tableAt(pa)
	*p.root = PTEs{}
	return p, nil
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() uintptr {
	return p.rootPhysical
}

// SATP returns the satp value that installs these tables in Sv39 mode.
func (p *PageTables) SATP() uint64 {
	const sv39Mode = 8 << 60
	return sv39Mode | uint64(p.rootPhysical>>hostarch.PageShift)
}

// Walk returns the leaf-level entry slot for va. The slot is not checked
// for validity.
//
// If alloc is set, missing intermediate tables are allocated zeroed.
// Otherwise, or if allocation fails, nil is returned when a level is
// missing.
//
// Precondition: va must be below hostarch.MaxVA.
func (p *PageTables) Walk(va hostarch.Addr, alloc bool) *PTE {
	if va >= hostarch.MaxVA {
		panic(fmt.Sprintf("walk: address %v beyond MaxVA", va))
	}
	table := p.root
	for level := hostarch.Levels - 1; level > 0; level-- {
		entry := &table[hostarch.PX(level, va)]
		if entry.Valid() {
			if entry.IsLeaf() {
				panic(fmt.Sprintf("walk: superpage entry %#x at level %d for %v", uint64(*entry), level, va))
			}
			table = p.tableAt(entry.Address())
			continue
		}
		if !alloc {
			return nil
		}
		pa, err := p.Allocator.Allocate()
		if err != nil {
			return nil
		}
		child := p.tableAt(pa)
		*child = PTEs{}
		entry.setPageTable(pa)
		table = child
	}
	return &table[hostarch.PX(0, va)]
}

// WalkAddr returns the physical frame backing the user page containing va.
//
// Only valid, user-accessible leaves are returned; kernel-only mappings
// are reported as not found.
func (p *PageTables) WalkAddr(va hostarch.Addr) (uintptr, bool) {
	if va >= hostarch.MaxVA {
		return 0, false
	}
	pte := p.Walk(va, false)
	if pte == nil || !pte.Valid() || !pte.User() {
		return 0, false
	}
	return pte.Address(), true
}

// Translate performs a supervisor-mode translation of va for an access of
// type at, as a hart running on these tables would. User pages are not
// accessible. The returned address includes the page offset.
func (p *PageTables) Translate(va hostarch.Addr, at hostarch.AccessType) (uintptr, bool) {
	if va >= hostarch.MaxVA {
		return 0, false
	}
	pte := p.Walk(va, false)
	if pte == nil || !pte.IsLeaf() || pte.User() {
		return 0, false
	}
	if !pte.Opts().AccessType.Effective().SupersetOf(at) {
		return 0, false
	}
	return pte.Address() + uintptr(va.PageOffset()), true
}

// Lookup returns the physical address and options for any leaf mapping va.
// The returned address includes the page offset.
func (p *PageTables) Lookup(va hostarch.Addr) (uintptr, MapOpts, bool) {
	if va >= hostarch.MaxVA {
		return 0, MapOpts{}, false
	}
	pte := p.Walk(va, false)
	if pte == nil || !pte.IsLeaf() {
		return 0, MapOpts{}, false
	}
	return pte.Address() + uintptr(va.PageOffset()), pte.Opts(), true
}

// Map installs leaf mappings for every page overlapping [va, va+length),
// starting at physical address pa.
//
// Mapping over a valid entry panics. ENOMEM is returned if an intermediate
// table cannot be allocated; pages already installed are left in place.
//
// Precondition: length must be non-zero.
func (p *PageTables) Map(va hostarch.Addr, length uint64, pa uintptr, opts MapOpts) error {
	if length == 0 {
		panic(fmt.Sprintf("map: zero length at %v", va))
	}
	end, ok := va.AddLength(length - 1)
	if !ok {
		panic(fmt.Sprintf("map: [%v, +%#x) overflows", va, length))
	}
	addr, last := va.RoundDown(), end.RoundDown()
	for {
		pte := p.Walk(addr, true)
		if pte == nil {
			return linuxerr.ENOMEM
		}
		if pte.Valid() {
			panic(fmt.Sprintf("remap: %v already maps %#x", addr, pte.Address()))
		}
		pte.Set(pa, opts)
		if addr == last {
			return nil
		}
		addr += hostarch.PageSize
		pa += hostarch.PageSize
	}
}

// Unmap removes npages leaf mappings starting at va. If release is set,
// the mapped frames are returned to the allocator.
//
// Every page must hold a valid leaf, and borrowed frames may not be
// released.
//
// Precondition: va must be page aligned.
func (p *PageTables) Unmap(va hostarch.Addr, npages uint64, release bool) {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("unmap: %v not aligned", va))
	}
	for i := uint64(0); i < npages; i++ {
		addr := va + hostarch.Addr(i*hostarch.PageSize)
		pte := p.Walk(addr, false)
		if pte == nil {
			panic(fmt.Sprintf("unmap: no table for %v", addr))
		}
		if !pte.Valid() {
			panic(fmt.Sprintf("unmap: %v not mapped", addr))
		}
		if !pte.IsLeaf() {
			panic(fmt.Sprintf("unmap: %v not a leaf", addr))
		}
		if release {
			if pte.Borrowed() {
				panic(fmt.Sprintf("unmap: release of borrowed frame %#x at %v", pte.Address(), addr))
			}
			p.Allocator.Free(pte.Address())
		}
		pte.Clear()
	}
}
