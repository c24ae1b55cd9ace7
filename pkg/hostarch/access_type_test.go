// Copyright 2024 The gVisor Authors.
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

import (
	"testing"
)

func TestAccessType(t *testing.T) {
	for _, tc := range []struct {
		at        AccessType
		str       string
		effective AccessType
	}{
		{NoAccess, "---", NoAccess},
		{Read, "r--", Read},
		{Write, "-w-", ReadWrite},
		{ReadExec, "r-x", ReadExec},
		{AnyAccess, "rwx", AnyAccess},
	} {
		if got := tc.at.String(); got != tc.str {
			t.Errorf("String() = %q, want %q", got, tc.str)
		}
		if got := tc.at.Effective(); got != tc.effective {
			t.Errorf("%s.Effective() = %s, want %s", tc.at, got, tc.effective)
		}
	}
	if !ReadWrite.SupersetOf(Write) || ReadExec.SupersetOf(Write) || !NoAccess.SupersetOf(NoAccess) {
		t.Errorf("SupersetOf is wrong")
	}
	if got := Read.Union(Execute); got != ReadExec {
		t.Errorf("Union() = %s, want %s", got, ReadExec)
	}
	if NoAccess.Any() || !Execute.Any() {
		t.Errorf("Any is wrong")
	}
}

func TestParseMemoryType(t *testing.T) {
	for mt := MemoryTypeWriteBack; mt < NumMemoryTypes; mt++ {
		for _, s := range []string{mt.String(), mt.ShortString()} {
			got, err := ParseMemoryType(s)
			if err != nil || got != mt {
				t.Errorf("ParseMemoryType(%q) = %v, %v; want %v", s, got, err, mt)
			}
		}
	}
	if _, err := ParseMemoryType("WT"); err == nil {
		t.Errorf("ParseMemoryType(WT) succeeded")
	}
}
