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
	"bufio"
	"fmt"
	"io"
	"strings"

	"sv39.dev/sv39/pkg/hostarch"
)

// Print writes a dump of every valid entry, depth first. Leaves are printed
// but not descended into.
//
// The output looks like:
//
//	page table 0x0000000087f6e000
//	..0: pte 0x0000000021fda801 pa 0x0000000087f6a000
//	.. ..0: pte 0x0000000021fda401 pa 0x0000000087f69000
//	.. .. ..0: pte 0x0000000021fdac1f pa 0x0000000087f6b000
func (p *PageTables) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "page table 0x%016x\n", p.rootPhysical)
	p.printTable(bw, p.root, 1)
	return bw.Flush()
}

func (p *PageTables) printTable(w io.Writer, table *PTEs, depth int) {
	if depth > hostarch.Levels {
		panic(fmt.Sprintf("print: table below leaf level at depth %d", depth))
	}
	indent := strings.TrimPrefix(strings.Repeat(" ..", depth), " ")
	for i := range table {
		entry := &table[i]
		if !entry.Valid() {
			continue
		}
		fmt.Fprintf(w, "%s%d: pte 0x%016x pa 0x%016x\n", indent, i, uint64(*entry), entry.Address())
		if !entry.IsLeaf() {
			p.printTable(w, p.tableAt(entry.Address()), depth+1)
		}
	}
}
