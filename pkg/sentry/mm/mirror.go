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
	"fmt"

	"sv39.dev/sv39/pkg/cleanup"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/ring0/pagetables"
)

// MirrorRange installs in mirror a borrowed, kernel-only alias of every
// user page in [roundup(begin), end), at the same address and with the
// same access bits.
//
// Every page of user in the range must be mapped. On failure, the aliases
// installed by this call are removed.
func MirrorRange(user, mirror *pagetables.PageTables, begin, end uint64) error {
	start := hostarch.PageRoundUp(begin)
	a := start
	cu := cleanup.Make(func() {
		if a > start {
			mirror.Unmap(hostarch.Addr(start), (a-start)/hostarch.PageSize, false)
		}
	})
	defer cu.Clean()

	for ; a < end; a += hostarch.PageSize {
		va := hostarch.Addr(a)
		pte := user.Walk(va, false)
		if pte == nil {
			panic(fmt.Sprintf("mirror: no table for %v", va))
		}
		if !pte.Valid() {
			panic(fmt.Sprintf("mirror: page %v not present", va))
		}
		opts := pte.Opts()
		opts.User = false
		opts.Borrowed = true
		if err := mirror.Map(va, hostarch.PageSize, pte.Address(), opts); err != nil {
			return err
		}
	}
	cu.Release()
	return nil
}

// UnmirrorRange removes the aliases of [roundup(begin), roundup(end)) from
// mirror. The frames stay with the user table.
func UnmirrorRange(mirror *pagetables.PageTables, begin, end uint64) {
	if start, stop := hostarch.PageRoundUp(begin), hostarch.PageRoundUp(end); start < stop {
		mirror.Unmap(hostarch.Addr(start), (stop-start)/hostarch.PageSize, false)
	}
}
