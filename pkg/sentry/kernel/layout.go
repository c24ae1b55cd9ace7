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
	"fmt"

	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/ring0/pagetables"
)

// Fixed virtual addresses at the top of every address space.
const (
	// Trampoline maps the trap entry and exit code, in both user and
	// kernel tables.
	Trampoline = hostarch.MaxVA - hostarch.PageSize

	// TrapFrame is the per-process trap frame page, below the trampoline,
	// in user tables only.
	TrapFrame = Trampoline - hostarch.PageSize

	// KernelStack is where each kernel mirror maps its process's kernel
	// stack. It is followed by an unmapped guard page.
	KernelStack = Trampoline - 2*hostarch.PageSize
)

// Layout describes physical memory and the device registers of the
// machine. All values are bytes or physical addresses.
type Layout struct {
	// KernBase is the physical address of RAM, where the kernel is loaded.
	KernBase uint64 `toml:"kernbase" yaml:"kernbase"`

	// MemSize is the amount of RAM.
	MemSize uint64 `toml:"memsize" yaml:"memsize"`

	// TextSize is the size of kernel text. The trampoline page is the last
	// page of text.
	TextSize uint64 `toml:"textsize" yaml:"textsize"`

	// ImageSize is the size of the kernel image. Frames above it are
	// handed to the allocator.
	ImageSize uint64 `toml:"imagesize" yaml:"imagesize"`

	UART0     uint64 `toml:"uart0" yaml:"uart0"`
	VIRTIO0   uint64 `toml:"virtio0" yaml:"virtio0"`
	CLINT     uint64 `toml:"clint" yaml:"clint"`
	CLINTSize uint64 `toml:"clintsize" yaml:"clintsize"`
	PLIC      uint64 `toml:"plic" yaml:"plic"`
	PLICSize  uint64 `toml:"plicsize" yaml:"plicsize"`
}

// DefaultLayout returns the layout of the qemu virt machine with 128 MB of
// RAM.
func DefaultLayout() Layout {
	return Layout{
		KernBase:  0x80000000,
		MemSize:   128 << 20,
		TextSize:  0x8000,
		ImageSize: 0x22000,
		UART0:     0x10000000,
		VIRTIO0:   0x10001000,
		CLINT:     0x02000000,
		CLINTSize: 0x10000,
		PLIC:      0x0c000000,
		PLICSize:  0x400000,
	}
}

// PhysTop returns the end of RAM.
func (l Layout) PhysTop() uint64 {
	return l.KernBase + l.MemSize
}

// TrampolinePhysical returns the physical address of the trampoline code.
func (l Layout) TrampolinePhysical() uintptr {
	return uintptr(l.KernBase + l.TextSize - hostarch.PageSize)
}

// Validate checks that the layout describes a machine page tables can be
// built for.
func (l *Layout) Validate() error {
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"kernbase", l.KernBase},
		{"memsize", l.MemSize},
		{"textsize", l.TextSize},
		{"imagesize", l.ImageSize},
		{"uart0", l.UART0},
		{"virtio0", l.VIRTIO0},
		{"clint", l.CLINT},
		{"plic", l.PLIC},
	} {
		if f.v&(hostarch.PageSize-1) != 0 {
			return fmt.Errorf("%s %#x is not page aligned", f.name, f.v)
		}
	}
	switch {
	case l.TextSize == 0:
		return fmt.Errorf("textsize must hold the trampoline page")
	case l.ImageSize < l.TextSize:
		return fmt.Errorf("imagesize %#x smaller than textsize %#x", l.ImageSize, l.TextSize)
	case l.ImageSize >= l.MemSize:
		return fmt.Errorf("imagesize %#x leaves no free memory in %#x", l.ImageSize, l.MemSize)
	case l.PhysTop() > uint64(KernelStack):
		return fmt.Errorf("RAM end %#x overlaps the kernel stack", l.PhysTop())
	case l.PLIC+l.PLICSize > l.KernBase:
		return fmt.Errorf("PLIC end %#x above kernbase %#x", l.PLIC+l.PLICSize, l.KernBase)
	}
	return nil
}

// Mapping is one fixed kernel mapping.
type Mapping struct {
	Name string
	VA   hostarch.Addr
	PA   uintptr
	Size uint64
	Opts pagetables.MapOpts
}

// Mappings returns the fixed kernel mappings. Device registers and RAM are
// direct mapped. The CLINT is only needed during boot, so mirrors leave it
// out; mirror mappings are marked borrowed.
func (l *Layout) Mappings(mirror bool) []Mapping {
	device := pagetables.MapOpts{AccessType: hostarch.ReadWrite, MemoryType: hostarch.MemoryTypeUncached}
	text := pagetables.MapOpts{AccessType: hostarch.ReadExec}
	data := pagetables.MapOpts{AccessType: hostarch.ReadWrite}

	ms := []Mapping{
		{"uart0", hostarch.Addr(l.UART0), uintptr(l.UART0), hostarch.PageSize, device},
		{"virtio0", hostarch.Addr(l.VIRTIO0), uintptr(l.VIRTIO0), hostarch.PageSize, device},
	}
	if !mirror {
		ms = append(ms, Mapping{"clint", hostarch.Addr(l.CLINT), uintptr(l.CLINT), l.CLINTSize, device})
	}
	textEnd := l.KernBase + l.TextSize
	ms = append(ms,
		Mapping{"plic", hostarch.Addr(l.PLIC), uintptr(l.PLIC), l.PLICSize, device},
		Mapping{"text", hostarch.Addr(l.KernBase), uintptr(l.KernBase), l.TextSize, text},
		Mapping{"data", hostarch.Addr(textEnd), uintptr(textEnd), l.PhysTop() - textEnd, data},
		Mapping{"trampoline", Trampoline, l.TrampolinePhysical(), hostarch.PageSize, text},
	)
	if mirror {
		for i := range ms {
			ms[i].Opts.Borrowed = true
		}
	}
	return ms
}
