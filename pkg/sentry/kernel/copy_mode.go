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

package kernel

import "fmt"

// CopyMode selects how the kernel reaches user memory.
type CopyMode string

const (
	// CopyModeWalk translates each user address in software through the
	// user table.
	CopyModeWalk CopyMode = "walk"

	// CopyModeMirror dereferences user addresses directly on a hart that
	// has the process's kernel mirror installed.
	CopyModeMirror CopyMode = "mirror"
)

// Set implements flag.Value.
func (m *CopyMode) Set(v string) error {
	switch CopyMode(v) {
	case CopyModeWalk, CopyModeMirror:
		*m = CopyMode(v)
		return nil
	}
	return fmt.Errorf("invalid copy mode %q", v)
}

// String implements flag.Value.
func (m *CopyMode) String() string {
	return string(*m)
}

// Get implements flag.Getter.
func (m *CopyMode) Get() any {
	return *m
}
