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

	"sv39.dev/sv39/pkg/cleanup"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/ring0/pagetables"
	"sv39.dev/sv39/pkg/sentry/mm"
	"sv39.dev/sv39/pkg/usermem"
)

var (
	// trampolineOpts maps the trap entry code, kernel-only, in every user
	// table.
	trampolineOpts = pagetables.MapOpts{
		AccessType: hostarch.ReadExec,
		Borrowed:   true,
	}

	// trapFrameOpts maps the process trap frame, kernel-only. The frame
	// belongs to the Process, not the user table.
	trapFrameOpts = pagetables.MapOpts{
		AccessType: hostarch.ReadWrite,
		Borrowed:   true,
	}

	// kernelStackOpts maps the private kernel stack in the mirror, which
	// owns it.
	kernelStackOpts = pagetables.MapOpts{
		AccessType: hostarch.ReadWrite,
	}
)

// Process is a user address space with its kernel-side state.
//
// A Process is owned by a single thread of control.
type Process struct {
	k   *Kernel
	pid int

	// mm is the address space. Its mirror is the per-process kernel table.
	mm *mm.MemoryManager

	// hart runs the process's kernel code in mirror copy mode.
	hart *Hart

	// trapFrame is the physical address of the trap frame.
	trapFrame uintptr

	// kernelStack is the physical address of the kernel stack.
	kernelStack uintptr

	released bool
}

// NewProcess creates a process with an empty address space. It returns
// EAGAIN if the process table is full and ENOMEM if memory runs out, in
// which case everything allocated is returned.
//
// Precondition: Boot has been called.
func (k *Kernel) NewProcess() (*Process, error) {
	k.PageTables()
	pid, ok := k.reservePID()
	if !ok {
		return nil, linuxerr.EAGAIN
	}
	cu := cleanup.Make(func() { k.releasePID(pid) })
	defer cu.Clean()

	trapFrame, err := k.alloc.Allocate()
	if err != nil {
		return nil, err
	}
	clear(k.alloc.Frame(trapFrame))
	cu.Add(func() { k.alloc.Free(trapFrame) })

	pt, err := k.newUserTable(trapFrame)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { releaseUserTable(pt) })

	kernelStack, err := k.alloc.Allocate()
	if err != nil {
		return nil, err
	}
	cu.Add(func() { k.alloc.Free(kernelStack) })

	mirror, err := k.newMirror(kernelStack)
	if err != nil {
		return nil, err
	}

	p := &Process{
		k:           k,
		pid:         pid,
		mm:          mm.NewMemoryManager(pt, mirror),
		hart:        k.NewHart(),
		trapFrame:   trapFrame,
		kernelStack: kernelStack,
	}
	k.publish(p)
	cu.Release()
	log.Debugf("Process %d created: root %#x, mirror %#x", pid, pt.RootPhysical(), mirror.RootPhysical())
	return p, nil
}

// newUserTable returns a user table holding only the trampoline and the
// trap frame.
func (k *Kernel) newUserTable(trapFrame uintptr) (*pagetables.PageTables, error) {
	pt, err := pagetables.New(k.alloc)
	if err != nil {
		return nil, err
	}
	if err := pt.Map(Trampoline, hostarch.PageSize, k.layout.TrampolinePhysical(), trampolineOpts); err != nil {
		pt.Release()
		return nil, err
	}
	if err := pt.Map(TrapFrame, hostarch.PageSize, trapFrame, trapFrameOpts); err != nil {
		pt.Unmap(Trampoline, 1, false)
		pt.Release()
		return nil, err
	}
	return pt, nil
}

// releaseUserTable frees a user table holding only the trampoline and the
// trap frame.
func releaseUserTable(pt *pagetables.PageTables) {
	pt.Unmap(Trampoline, 1, false)
	pt.Unmap(TrapFrame, 1, false)
	pt.Release()
}

// newMirror returns a kernel mirror holding the kernel mappings and the
// kernel stack.
func (k *Kernel) newMirror(kernelStack uintptr) (*pagetables.PageTables, error) {
	mirror, err := pagetables.New(k.alloc)
	if err != nil {
		return nil, err
	}
	for _, m := range k.layout.Mappings(true) {
		if err := mirror.Map(m.VA, m.Size, m.PA, m.Opts); err != nil {
			mirror.ReleaseMirror()
			return nil, err
		}
	}
	if err := mirror.Map(KernelStack, hostarch.PageSize, kernelStack, kernelStackOpts); err != nil {
		mirror.ReleaseMirror()
		return nil, err
	}
	return mirror, nil
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// Size returns the size of the address space in bytes.
func (p *Process) Size() uint64 {
	return p.mm.Size()
}

// PageTables returns the user table.
func (p *Process) PageTables() *pagetables.PageTables {
	return p.mm.PageTables()
}

// Mirror returns the per-process kernel table.
func (p *Process) Mirror() *pagetables.PageTables {
	return p.mm.Mirror()
}

// Hart returns the hart that runs the process's kernel code.
func (p *Process) Hart() *Hart {
	return p.hart
}

// TrapFrame returns the physical address of the trap frame.
func (p *Process) TrapFrame() uintptr {
	return p.trapFrame
}

// TrapFrameIO returns an IO over the trap frame page. Addresses are byte
// offsets into the frame.
func (p *Process) TrapFrameIO() usermem.IO {
	return &usermem.BytesIO{Bytes: p.k.alloc.Frame(p.trapFrame)}
}

// KernelStack returns the physical address of the kernel stack.
func (p *Process) KernelStack() uintptr {
	return p.kernelStack
}

// UserInit loads code at address zero of an empty address space, as the
// first process's image.
//
// Precondition: len(code) < PageSize.
func (p *Process) UserInit(code []byte) error {
	return p.mm.Load(code)
}

// Grow grows or shrinks the address space by n bytes. Growth that would
// reach the PLIC returns ENOMEM, since the mirror maps devices there.
// Shrinking past zero returns EINVAL.
func (p *Process) Grow(n int64) error {
	size := p.mm.Size()
	switch {
	case n > 0:
		if end := hostarch.PageRoundUp(size + uint64(n)); end < size || end >= p.k.userLimit() {
			return linuxerr.ENOMEM
		}
	case n < 0:
		if uint64(-n) > size {
			return linuxerr.EINVAL
		}
	}
	return p.mm.Resize(n)
}

// Fork creates a child process with a copy of this address space and trap
// frame.
func (p *Process) Fork() (*Process, error) {
	child, err := p.k.NewProcess()
	if err != nil {
		return nil, err
	}
	if err := p.mm.Fork(child.mm); err != nil {
		child.Release()
		return nil, err
	}
	copy(p.k.alloc.Frame(child.trapFrame), p.k.alloc.Frame(p.trapFrame))
	return child, nil
}

// Release tears the process down and returns every frame it owns.
func (p *Process) Release() {
	if p.released {
		panic(fmt.Sprintf("process %d released twice", p.pid))
	}
	p.released = true

	pt := p.mm.PageTables()
	pt.Unmap(Trampoline, 1, false)
	pt.Unmap(TrapFrame, 1, false)
	mirror := p.mm.Mirror()
	p.mm.Release()
	p.k.alloc.Free(p.trapFrame)

	if p.hart.Installed() == mirror {
		p.hart.Install(p.k.PageTables())
	}
	mirror.Unmap(KernelStack, 1, true)
	mirror.ReleaseMirror()

	p.k.releasePID(p.pid)
	log.Debugf("Process %d released", p.pid)
}

// userIO returns the user copy path selected for the kernel.
func (p *Process) userIO() usermem.IO {
	if p.k.mode == CopyModeMirror {
		return mirrorIO{p}
	}
	return p.mm
}

// CopyOut implements usermem.IO.CopyOut.
func (p *Process) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return p.userIO().CopyOut(addr, src)
}

// CopyIn implements usermem.IO.CopyIn.
func (p *Process) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return p.userIO().CopyIn(addr, dst)
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes,
// including the NUL, from user memory.
func (p *Process) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	return usermem.CopyStringIn(p.userIO(), addr, maxlen)
}

// mirrorIO reaches user memory through the process's kernel mirror.
//
// Accesses are bounded by the address space size. Beyond it the mirror
// maps kernel memory, which user pointers must never reach.
type mirrorIO struct {
	p *Process
}

// hart returns the process hart with the mirror installed.
func (m mirrorIO) hart() *Hart {
	if mirror := m.p.mm.Mirror(); m.p.hart.Installed() != mirror {
		m.p.hart.Install(mirror)
	}
	return m.p.hart
}

// clamp returns the length of the part of [addr, addr+n) that lies below
// the end of the address space.
func (m mirrorIO) clamp(addr hostarch.Addr, n int) int {
	limit := hostarch.PageRoundUp(m.p.mm.Size())
	if uint64(addr) >= limit {
		return 0
	}
	return int(min(uint64(n), limit-uint64(addr)))
}

// CopyOut implements usermem.IO.CopyOut.
func (m mirrorIO) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	n := m.clamp(addr, len(src))
	if n == 0 && len(src) > 0 {
		return 0, linuxerr.EFAULT
	}
	done, err := m.hart().Write(addr, src[:n])
	if err == nil && n < len(src) {
		err = linuxerr.EFAULT
	}
	return done, err
}

// CopyIn implements usermem.IO.CopyIn.
func (m mirrorIO) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	n := m.clamp(addr, len(dst))
	if n == 0 && len(dst) > 0 {
		return 0, linuxerr.EFAULT
	}
	done, err := m.hart().Read(addr, dst[:n])
	if err == nil && n < len(dst) {
		err = linuxerr.EFAULT
	}
	return done, err
}
