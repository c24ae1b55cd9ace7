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

package mm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/sentry/pgalloc"
)

func newMirroredManager(t *testing.T, frames uintptr) (*MemoryManager, *pgalloc.Allocator) {
	t.Helper()
	a := newAllocator(t, frames)
	return NewMemoryManager(newPageTables(t, a), newPageTables(t, a)), a
}

// checkMirror verifies that the mirror aliases exactly the user pages below
// limit, without the user bit.
func checkMirror(t *testing.T, mm *MemoryManager, limit hostarch.Addr) {
	t.Helper()
	for va := hostarch.Addr(0); va < limit; va += page {
		upa, uopts, uok := mm.PageTables().Lookup(va)
		mpa, mopts, mok := mm.Mirror().Lookup(va)
		if uok != mok {
			t.Errorf("page %v: user mapped %t, mirror mapped %t", va, uok, mok)
			continue
		}
		if !uok {
			continue
		}
		want := uopts
		want.User = false
		want.Borrowed = true
		if upa != mpa {
			t.Errorf("page %v: mirror frame %#x, user frame %#x", va, mpa, upa)
		}
		if diff := cmp.Diff(want, mopts); diff != "" {
			t.Errorf("page %v: mirror opts mismatch (-want +got):\n%s", va, diff)
		}
		if _, ok := mm.Mirror().Translate(va, hostarch.ReadWrite); !ok {
			t.Errorf("page %v: mirror does not translate for the kernel", va)
		}
	}
}

func TestMirrorRange(t *testing.T) {
	a := newAllocator(t, 64)
	user := newPageTables(t, a)
	mirror := newPageTables(t, a)

	sz, err := Grow(user, 0, 3*page)
	if err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	if err := MirrorRange(user, mirror, 0, sz); err != nil {
		t.Fatalf("MirrorRange failed: %v", err)
	}
	sz2, err := Grow(user, sz, 5*page-1)
	if err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	// Only the new tail is mirrored; the old range is already present.
	if err := MirrorRange(user, mirror, sz, sz2); err != nil {
		t.Fatalf("MirrorRange failed: %v", err)
	}
	checkMirror(t, &MemoryManager{pt: user, mirror: mirror, size: sz2}, 6*page)

	UnmirrorRange(mirror, 2*page+1, sz2)
	for va := hostarch.Addr(3 * page); va < 5*page; va += page {
		if _, _, ok := mirror.Lookup(va); ok {
			t.Errorf("page %v still mirrored", va)
		}
		if _, ok := user.WalkAddr(va); !ok {
			t.Errorf("user page %v lost by unmirror", va)
		}
	}
}

func TestMirrorRangeRollsBack(t *testing.T) {
	a := newAllocator(t, 64)
	user := newPageTables(t, a)
	mirror := newPageTables(t, a)

	// Four pages straddling two level-0 tables.
	const begin, end = 0x1fe000, 0x202000
	for va := hostarch.Addr(begin); va < end; va += page {
		pa, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if err := user.Map(va, page, pa, UserOpts); err != nil {
			t.Fatalf("Map failed: %v", err)
		}
	}

	// The mirror's level-1 and first level-0 table fit, the second does not.
	drain(t, a, 2)
	if err := MirrorRange(user, mirror, begin, end); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("MirrorRange got err %v, want ENOMEM", err)
	}
	for va := hostarch.Addr(begin); va < end; va += page {
		if _, _, ok := mirror.Lookup(va); ok {
			t.Errorf("page %v mirrored after failure", va)
		}
		if _, ok := user.WalkAddr(va); !ok {
			t.Errorf("user page %v lost", va)
		}
	}
}

func TestMirrorRangePanicsOnGap(t *testing.T) {
	a := newAllocator(t, 64)
	user := newPageTables(t, a)
	mirror := newPageTables(t, a)
	Grow(user, 0, 3*page)
	user.Unmap(page, 1, true)
	expectPanic(t, "mirror of missing page", func() { MirrorRange(user, mirror, 0, 3*page) })
}

func TestManagerGrowShrinkKeepsMirror(t *testing.T) {
	mm, a := newMirroredManager(t, 64)

	if err := mm.Grow(3*page + 10); err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	if got := mm.Size(); got != 3*page+10 {
		t.Errorf("Size() = %#x, want %#x", got, 3*page+10)
	}
	checkMirror(t, mm, 8*page)

	if err := mm.Grow(6 * page); err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	checkMirror(t, mm, 8*page)

	pa, _ := mm.PageTables().WalkAddr(5 * page)
	mm.Shrink(2 * page)
	if got := mm.Size(); got != 2*page {
		t.Errorf("Size() = %#x, want %#x", got, 2*page)
	}
	checkMirror(t, mm, 8*page)
	if !a.IsFree(pa) {
		t.Errorf("frame %#x of a removed page not freed", pa)
	}

	// Shrinking to a larger size does nothing.
	mm.Shrink(4 * page)
	if got := mm.Size(); got != 2*page {
		t.Errorf("Size() = %#x, want %#x", got, 2*page)
	}
}

func TestManagerGrowUndoneWhenMirrorFails(t *testing.T) {
	mm, a := newMirroredManager(t, 64)

	// Give the user table its tables up front; the mirror has none.
	if _, err := Grow(mm.PageTables(), 0, page); err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	Shrink(mm.PageTables(), page, 0)

	drain(t, a, 1)
	if err := mm.Grow(page); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("Grow got err %v, want ENOMEM", err)
	}
	if got := mm.Size(); got != 0 {
		t.Errorf("Size() = %#x, want 0", got)
	}
	if _, ok := mm.PageTables().WalkAddr(0); ok {
		t.Errorf("user page left mapped")
	}
	if got := a.FreeFrames(); got != 1 {
		t.Errorf("FreeFrames() = %d, want 1", got)
	}
}

func TestManagerResize(t *testing.T) {
	mm, _ := newMirroredManager(t, 64)
	if err := mm.Resize(2*page + 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := mm.Resize(-page); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if got := mm.Size(); got != page+1 {
		t.Errorf("Size() = %#x, want %#x", got, page+1)
	}
	checkMirror(t, mm, 4*page)
	expectPanic(t, "shrink below zero", func() { mm.Resize(-2 * page) })
}

func TestManagerLoad(t *testing.T) {
	mm, _ := newMirroredManager(t, 64)
	code := []byte{0x17, 0x05, 0x00, 0x00}
	if err := mm.Load(code); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := make([]byte, page)
	if _, err := mm.CopyIn(0, got); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	want := make([]byte, page)
	copy(want, code)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded page mismatch (-want +got):\n%s", diff)
	}
	expectPanic(t, "second load", func() { mm.Load(code) })
}

func TestManagerFork(t *testing.T) {
	parent, a := newMirroredManager(t, 64)
	if err := parent.Grow(2 * page); err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	parent.CopyOut(10, []byte("parent"))

	child := NewMemoryManager(newPageTables(t, a), newPageTables(t, a))
	if err := parent.Fork(child); err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if got := child.Size(); got != 2*page {
		t.Errorf("child Size() = %#x, want %#x", got, 2*page)
	}
	checkMirror(t, child, 4*page)

	parent.CopyOut(10, []byte("PARENT"))
	got, err := child.CopyInString(10, 16)
	if err != nil || got != "parent" {
		t.Errorf("child string = %q, %v, want %q, nil", got, err, "parent")
	}
}

func TestManagerRelease(t *testing.T) {
	a := newAllocator(t, 64)
	before := a.FreeFrames()
	mirror := newPageTables(t, a)
	mm := NewMemoryManager(newPageTables(t, a), mirror)
	if err := mm.Grow(3 * page); err != nil {
		t.Fatalf("Grow failed: %v", err)
	}

	mm.Release()
	for va := hostarch.Addr(0); va < 3*page; va += page {
		if _, _, ok := mirror.Lookup(va); ok {
			t.Errorf("mirror still aliases page %v after release", va)
		}
	}
	mirror.ReleaseMirror()
	if got := a.FreeFrames(); got != before {
		t.Errorf("FreeFrames() = %d, want %d", got, before)
	}
}
