// Copyright 2020 The gVisor Authors.
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
)

// freeWalk frees table and every table below it, children first.
//
// onLeaf is called for each valid leaf found. If it returns false, the
// remaining entries of that table are not inspected.
func (p *PageTables) freeWalk(table *PTEs, physical uintptr, onLeaf func(*PTE) bool) {
scan:
	for i := range table {
		entry := &table[i]
		switch {
		case !entry.Valid():
		case !entry.IsLeaf():
			child := entry.Address()
			p.freeWalk(p.tableAt(child), child, onLeaf)
			entry.Clear()
		default:
			if !onLeaf(entry) {
				break scan
			}
		}
	}
	p.Allocator.Free(physical)
}

// Release frees every table of this address space.
//
// All leaf mappings must already have been unmapped; finding one panics,
// as its frame would otherwise leak.
func (p *PageTables) Release() {
	p.freeWalk(p.root, p.rootPhysical, func(pte *PTE) bool {
		panic(fmt.Sprintf("freewalk: leaf %#x", uint64(*pte)))
	})
	p.root = nil
}

// ReleaseMirror frees every table of a kernel mirror, leaving leaf frames
// untouched.
//
// Mirrored leaves never share a table with child pointers, so scanning of
// a table stops at its first leaf.
func (p *PageTables) ReleaseMirror() {
	p.freeWalk(p.root, p.rootPhysical, func(*PTE) bool {
		return false
	})
	p.root = nil
}
