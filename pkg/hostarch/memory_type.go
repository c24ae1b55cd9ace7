// Copyright 2023 The gVisor Authors.
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

package hostarch

import "fmt"

// MemoryType specifies CPU memory access behavior.
//
// On RISC-V the memory type of a leaf mapping is carried in the Svpbmt
// PBMT field of the page table entry.
type MemoryType uint8

const (
	// MemoryTypeWriteBack uses the physical memory attributes of the
	// underlying region (PBMT=PMA). This is appropriate for RAM and must be
	// the zero value for MemoryType.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeWriteCombine is non-cacheable, idempotent, weakly-ordered
	// main memory (PBMT=NC).
	MemoryTypeWriteCombine

	// MemoryTypeUncached is non-cacheable, non-idempotent, strongly-ordered
	// I/O memory (PBMT=IO). Device registers are mapped with this type.
	MemoryTypeUncached

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

var memoryTypeNames = [NumMemoryTypes][2]string{
	MemoryTypeWriteBack:    {"WriteBack", "WB"},
	MemoryTypeWriteCombine: {"WriteCombine", "WC"},
	MemoryTypeUncached:     {"Uncached", "UC"},
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	if mt < NumMemoryTypes {
		return memoryTypeNames[mt][0]
	}
	return fmt.Sprintf("%d", mt)
}

// ShortString returns the two-character form used in page table dumps.
func (mt MemoryType) ShortString() string {
	if mt < NumMemoryTypes {
		return memoryTypeNames[mt][1]
	}
	return fmt.Sprintf("%02d", mt)
}

// ParseMemoryType accepts either the String or ShortString form.
func ParseMemoryType(s string) (MemoryType, error) {
	for mt, names := range memoryTypeNames {
		if s == names[0] || s == names[1] {
			return MemoryType(mt), nil
		}
	}
	return 0, fmt.Errorf("unknown memory type %q", s)
}
