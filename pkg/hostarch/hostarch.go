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

// Package hostarch describes the Sv39 machine that page tables are built
// for: page geometry, virtual addresses and access types.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the machine page size.
	PageSize = 1 << PageShift

	// PTEShift is the binary log of the number of entries in one page table
	// page: 4096 bytes of 8-byte entries.
	PTEShift = 9

	// Levels is the depth of an Sv39 page table tree.
	Levels = 3

	// MaxVA is one beyond the highest virtual address any table may map.
	// It is actually one bit less than the Sv39 maximum so that addresses
	// never need sign extension.
	MaxVA = Addr(1) << (PTEShift*Levels + PageShift - 1)
)

// PX extracts the index into the page table at the given level from va.
// Level 0 is the leaf level.
func PX(level int, va Addr) int {
	return int((uintptr(va) >> (PageShift + PTEShift*uint(level))) & (1<<PTEShift - 1))
}
