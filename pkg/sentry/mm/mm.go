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

// Package mm manages user address spaces on top of page tables.
//
// An address space is a root table plus a size: every page in [0, size)
// is mapped and owned by the table. The package functions operate on a
// bare table; MemoryManager additionally keeps a kernel mirror of the user
// range in step with it.
package mm

import (
	"fmt"
	"time"

	"sv39.dev/sv39/pkg/cleanup"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/ring0/pagetables"
)

// UserOpts are the options of every page added by Grow.
var UserOpts = pagetables.MapOpts{
	AccessType: hostarch.AnyAccess,
	User:       true,
}

// oomLog reports allocation failures without flooding the log when a
// workload repeatedly runs out of frames.
var oomLog = log.BasicRateLimitedLogger(time.Second)

// Grow maps zeroed pages to extend an address space from oldSize to
// newSize, and returns the new size.
//
// If newSize < oldSize, Grow does nothing and returns oldSize. On failure
// every page added by this call is unmapped and freed, and oldSize is
// returned along with the error.
func Grow(pt *pagetables.PageTables, oldSize, newSize uint64) (uint64, error) {
	if newSize < oldSize {
		return oldSize, nil
	}
	if newSize > uint64(hostarch.MaxVA) {
		return oldSize, linuxerr.ENOMEM
	}

	a := hostarch.PageRoundUp(oldSize)
	cu := cleanup.Make(func() {
		Shrink(pt, a, oldSize)
	})
	defer cu.Clean()

	for ; a < newSize; a += hostarch.PageSize {
		pa, err := pt.Allocator.Allocate()
		if err != nil {
			oomLog.Warningf("mm: out of frames growing %#x to %#x at %#x", oldSize, newSize, a)
			return oldSize, err
		}
		clear(pt.Allocator.Frame(pa))
		if err := pt.Map(hostarch.Addr(a), hostarch.PageSize, pa, UserOpts); err != nil {
			pt.Allocator.Free(pa)
			oomLog.Warningf("mm: out of table frames growing %#x to %#x at %#x", oldSize, newSize, a)
			return oldSize, err
		}
	}
	cu.Release()
	return newSize, nil
}

// Shrink unmaps and frees the pages between newSize and oldSize, and
// returns the new size. Sizes need not be page aligned.
//
// If newSize >= oldSize, Shrink does nothing and returns oldSize.
func Shrink(pt *pagetables.PageTables, oldSize, newSize uint64) uint64 {
	if newSize >= oldSize {
		return oldSize
	}
	if start, end := hostarch.PageRoundUp(newSize), hostarch.PageRoundUp(oldSize); start < end {
		pt.Unmap(hostarch.Addr(start), (end-start)/hostarch.PageSize, true)
	}
	return newSize
}

// Destroy frees the pages of [0, size) and then every table of pt.
//
// Precondition: [0, size) must be the only mapped range in pt.
func Destroy(pt *pagetables.PageTables, size uint64) {
	if size > 0 {
		pt.Unmap(0, hostarch.PageRoundUp(size)/hostarch.PageSize, true)
	}
	pt.Release()
}

// Duplicate copies the pages of [0, size) from src into freshly allocated
// frames mapped at the same addresses and with the same options in dst.
//
// Every page of src in the range must be mapped. On failure, everything
// this call mapped in dst is unmapped and freed.
func Duplicate(src, dst *pagetables.PageTables, size uint64) error {
	var done uint64
	cu := cleanup.Make(func() {
		if done > 0 {
			dst.Unmap(0, done/hostarch.PageSize, true)
		}
	})
	defer cu.Clean()

	for ; done < size; done += hostarch.PageSize {
		va := hostarch.Addr(done)
		pte := src.Walk(va, false)
		if pte == nil {
			panic(fmt.Sprintf("duplicate: no table for %v", va))
		}
		if !pte.Valid() {
			panic(fmt.Sprintf("duplicate: page %v not present", va))
		}
		pa, err := dst.Allocator.Allocate()
		if err != nil {
			oomLog.Warningf("mm: out of frames duplicating %#x bytes at %v", size, va)
			return err
		}
		copy(dst.Allocator.Frame(pa), src.Allocator.Frame(pte.Address()))
		opts := pte.Opts()
		opts.Borrowed = false
		if err := dst.Map(va, hostarch.PageSize, pa, opts); err != nil {
			dst.Allocator.Free(pa)
			return err
		}
	}
	cu.Release()
	return nil
}
