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

// Package kernel ties page tables to processes: it builds the global kernel
// table at boot and, for each process, a user table and a per-process
// kernel mirror that aliases the user range.
package kernel

import (
	"fmt"
	"sync"

	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/ring0/pagetables"
	"sv39.dev/sv39/pkg/sentry/pgalloc"
)

// DefaultMaxProcs is the default process table size.
const DefaultMaxProcs = 64

// Options configures a Kernel.
type Options struct {
	// Layout is the machine layout.
	Layout Layout

	// CopyMode selects the user copy path of every process.
	CopyMode CopyMode

	// MaxProcs bounds the number of live processes. Zero means
	// DefaultMaxProcs.
	MaxProcs int
}

// Kernel is the machine: physical memory, the global kernel table and the
// process table.
type Kernel struct {
	layout   Layout
	mode     CopyMode
	maxProcs int

	// alloc owns all of RAM above the kernel image.
	alloc *pgalloc.Allocator

	// bootOnce guards construction of pt.
	bootOnce sync.Once

	// pt is the global kernel table. It is nil before Boot.
	pt *pagetables.PageTables

	mu sync.Mutex

	// procs maps pids to live processes. A reserved pid maps to nil.
	//
	// +checklocks:mu
	procs map[int]*Process

	// +checklocks:mu
	nextPID int
}

// New returns a Kernel that has not yet booted.
func New(opts Options) (*Kernel, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	switch opts.CopyMode {
	case "":
		opts.CopyMode = CopyModeWalk
	case CopyModeWalk, CopyModeMirror:
	default:
		return nil, fmt.Errorf("invalid copy mode %q", opts.CopyMode)
	}
	if opts.MaxProcs < 0 {
		return nil, fmt.Errorf("invalid process limit %d", opts.MaxProcs)
	}
	if opts.MaxProcs == 0 {
		opts.MaxProcs = DefaultMaxProcs
	}
	alloc, err := pgalloc.NewAllocator(pgalloc.AllocatorOpts{
		Base:     uintptr(opts.Layout.KernBase),
		Size:     uintptr(opts.Layout.MemSize),
		Reserved: uintptr(opts.Layout.ImageSize),
	})
	if err != nil {
		return nil, err
	}
	return &Kernel{
		layout:   opts.Layout,
		mode:     opts.CopyMode,
		maxProcs: opts.MaxProcs,
		alloc:    alloc,
		procs:    make(map[int]*Process),
		nextPID:  1,
	}, nil
}

// Boot builds the global kernel table. Only the first call has any effect.
//
// Boot panics if the table cannot be built.
func (k *Kernel) Boot() {
	k.bootOnce.Do(func() {
		pt, err := pagetables.New(k.alloc)
		if err != nil {
			panic(fmt.Sprintf("kvmmap: root: %v", err))
		}
		for _, m := range k.layout.Mappings(false) {
			if err := pt.Map(m.VA, m.Size, m.PA, m.Opts); err != nil {
				panic(fmt.Sprintf("kvmmap: %s: %v", m.Name, err))
			}
		}
		k.pt = pt
		log.Infof("Kernel booted: %d frames free of %d", k.alloc.FreeFrames(), k.alloc.TotalFrames())
	})
}

// PageTables returns the global kernel table.
//
// Precondition: Boot has been called.
func (k *Kernel) PageTables() *pagetables.PageTables {
	if k.pt == nil {
		panic("kernel page table used before boot")
	}
	return k.pt
}

// Layout returns the machine layout.
func (k *Kernel) Layout() Layout {
	return k.layout
}

// CopyMode returns the user copy path in use.
func (k *Kernel) CopyMode() CopyMode {
	return k.mode
}

// Allocator returns the physical frame allocator.
func (k *Kernel) Allocator() *pgalloc.Allocator {
	return k.alloc
}

// NumProcs returns the number of live processes.
func (k *Kernel) NumProcs() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, p := range k.procs {
		if p != nil {
			n++
		}
	}
	return n
}

// Process returns the live process with the given pid.
func (k *Kernel) Process(pid int) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := k.procs[pid]
	return p, p != nil
}

// NewHart returns a hart with no table installed.
func (k *Kernel) NewHart() *Hart {
	return &Hart{k: k}
}

// reservePID claims a process table slot.
func (k *Kernel) reservePID() (int, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.procs) >= k.maxProcs {
		return 0, false
	}
	pid := k.nextPID
	k.nextPID++
	k.procs[pid] = nil
	return pid, true
}

// publish makes a reserved pid visible.
func (k *Kernel) publish(p *Process) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.procs[p.pid] = p
}

// releasePID frees a process table slot.
func (k *Kernel) releasePID(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.procs, pid)
}

// userLimit is the first address user memory may not reach: the mirror
// direct-maps devices from the PLIC upwards.
func (k *Kernel) userLimit() uint64 {
	return k.layout.PLIC
}
