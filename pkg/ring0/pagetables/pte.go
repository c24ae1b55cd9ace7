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

package pagetables

import (
	"fmt"

	"sv39.dev/sv39/pkg/hostarch"
)

// Sv39 entry bits.
const (
	valid      = 1 << 0
	readable   = 1 << 1
	writable   = 1 << 2
	executable = 1 << 3
	user       = 1 << 4

	// borrowed is a software bit (RSW). A borrowed leaf aliases a frame
	// owned by another table and must never be freed through this one.
	borrowed = 1 << 8

	// pbmtShift is the position of the Svpbmt memory type field.
	pbmtShift = 61
	pbmtMask  = 0x3 << pbmtShift

	ppnShift = 10
	ppnMask  = (1<<44 - 1) << ppnShift

	// flagsMask covers the low bits below the PPN.
	flagsMask  = 1<<ppnShift - 1
	accessMask = readable | writable | executable

	entriesPerPage = 1 << hostarch.PTEShift
)

// Svpbmt encodings.
const (
	pbmtPMA = 0
	pbmtNC  = 1
	pbmtIO  = 2
)

// MapOpts are mapping options.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is accessible from user mode.
	User bool

	// Borrowed indicates the frame is not owned by this table.
	Borrowed bool

	// MemoryType is the memory type.
	MemoryType hostarch.MemoryType
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	s := o.AccessType.String()
	if o.User {
		s += "u"
	} else {
		s += "-"
	}
	if o.Borrowed {
		s += "b"
	}
	if o.MemoryType != hostarch.MemoryTypeWriteBack {
		s += "/" + o.MemoryType.ShortString()
	}
	return s
}

// PTE is a page table entry.
type PTE uint64

// PTEs is a collection of entries; one page table page.
type PTEs [entriesPerPage]PTE

// Clear clears this PTE.
func (p *PTE) Clear() {
	*p = 0
}

// Valid returns true iff this entry is valid.
func (p *PTE) Valid() bool {
	return *p&valid != 0
}

// IsLeaf returns true iff this entry maps a frame rather than pointing at a
// child table. Valid entries with no access bits are table pointers.
func (p *PTE) IsLeaf() bool {
	return p.Valid() && *p&accessMask != 0
}

// User returns true iff the entry is user-accessible.
func (p *PTE) User() bool {
	return *p&user != 0
}

// Borrowed returns true iff the entry aliases a frame it does not own.
func (p *PTE) Borrowed() bool {
	return *p&borrowed != 0
}

// Flags returns the low flag bits of the entry.
func (p *PTE) Flags() uint64 {
	return uint64(*p & flagsMask)
}

// Opts returns the PTEOpts.
//
// If the PTE is not valid, then the zero MapOpts is returned.
func (p *PTE) Opts() MapOpts {
	if !p.Valid() {
		return MapOpts{}
	}
	opts := MapOpts{
		AccessType: hostarch.AccessType{
			Read:    *p&readable != 0,
			Write:   *p&writable != 0,
			Execute: *p&executable != 0,
		},
		User:     p.User(),
		Borrowed: p.Borrowed(),
	}
	switch (*p & pbmtMask) >> pbmtShift {
	case pbmtNC:
		opts.MemoryType = hostarch.MemoryTypeWriteCombine
	case pbmtIO:
		opts.MemoryType = hostarch.MemoryTypeUncached
	}
	return opts
}

// Set sets this PTE as a leaf mapping of addr.
//
// A leaf must carry at least one access bit, otherwise it would be read
// back as a pointer to a child table.
func (p *PTE) Set(addr uintptr, opts MapOpts) {
	if !opts.AccessType.Any() {
		panic(fmt.Sprintf("leaf mapping of %#x without access bits", addr))
	}
	v := (PTE(addr>>hostarch.PageShift) << ppnShift) | valid
	if opts.AccessType.Read {
		v |= readable
	}
	if opts.AccessType.Write {
		v |= writable
	}
	if opts.AccessType.Execute {
		v |= executable
	}
	if opts.User {
		v |= user
	}
	if opts.Borrowed {
		v |= borrowed
	}
	switch opts.MemoryType {
	case hostarch.MemoryTypeWriteCombine:
		v |= pbmtNC << pbmtShift
	case hostarch.MemoryTypeUncached:
		v |= pbmtIO << pbmtShift
	default:
		v |= pbmtPMA << pbmtShift
	}
	*p = v
}

// setPageTable makes this PTE a pointer to the table at addr.
func (p *PTE) setPageTable(addr uintptr) {
	*p = (PTE(addr>>hostarch.PageShift) << ppnShift) | valid
}

// Address extracts the address. This should only be called if Valid returns
// true.
func (p *PTE) Address() uintptr {
	return uintptr((*p&ppnMask)>>ppnShift) << hostarch.PageShift
}
