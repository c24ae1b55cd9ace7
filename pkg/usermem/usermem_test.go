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

package usermem

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
)

func newBytesIOString(s string) *BytesIO {
	return &BytesIO{[]byte(s)}
}

func TestBytesIOCopyOutSuccess(t *testing.T) {
	b := newBytesIOString("ABCDE")
	n, err := b.CopyOut(1, []byte("foo"))
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := b.Bytes, []byte("AfooE"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyOutFailure(t *testing.T) {
	b := newBytesIOString("ABC")
	n, err := b.CopyOut(1, []byte("foo"))
	if wantN := 2; n != wantN || !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, %v)", n, err, wantN, linuxerr.EFAULT)
	}
	if got, want := b.Bytes, []byte("Afo"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyInSuccess(t *testing.T) {
	b := newBytesIOString("AfooE")
	var dst [3]byte
	n, err := b.CopyIn(1, dst[:])
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := dst[:], []byte("foo"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyInFailure(t *testing.T) {
	b := newBytesIOString("Afo")
	var dst [3]byte
	n, err := b.CopyIn(1, dst[:])
	if wantN := 2; n != wantN || !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, %v)", n, err, wantN, linuxerr.EFAULT)
	}
	if got, want := dst[:], []byte("fo\x00"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestCopyStringInShort(t *testing.T) {
	// Tests for string length <= copyStringIncrement.
	want := strings.Repeat("A", copyStringIncrement-2)
	mem := want + "\x00"
	if got, err := CopyStringIn(newBytesIOString(mem), 0, 2*copyStringIncrement); got != want || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, want)
	}
}

func TestCopyStringInLong(t *testing.T) {
	// Tests for copyStringIncrement < string length <= copyStringMaxInitBufLen
	// (requiring multiple calls to IO.CopyIn()).
	want := strings.Repeat("A", copyStringIncrement*3/4) + strings.Repeat("B", copyStringIncrement*3/4)
	mem := want + "\x00"
	if got, err := CopyStringIn(newBytesIOString(mem), 0, 2*copyStringIncrement); got != want || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, want)
	}
}

func TestCopyStringInVeryLong(t *testing.T) {
	// Tests for string length > copyStringMaxInitBufLen (requiring buffer
	// reallocation).
	want := strings.Repeat("A", copyStringMaxInitBufLen*3/4) + strings.Repeat("B", copyStringMaxInitBufLen*3/4)
	mem := want + "\x00"
	if got, err := CopyStringIn(newBytesIOString(mem), 0, 2*copyStringMaxInitBufLen); got != want || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, want)
	}
}

func TestCopyStringInNoTerminatingZeroByte(t *testing.T) {
	want := strings.Repeat("A", copyStringIncrement-1)
	got, err := CopyStringIn(newBytesIOString(want), 0, 2*copyStringIncrement)
	if got != want || !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, %v)", got, err, want, linuxerr.EFAULT)
	}
}

func TestCopyStringInTruncatedByMaxlen(t *testing.T) {
	got, err := CopyStringIn(newBytesIOString(strings.Repeat("A", 10)), 0, 5)
	if want := strings.Repeat("A", 5); got != want || !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, %v)", got, err, want, linuxerr.ENAMETOOLONG)
	}
}

// recordingIO records the ranges read through it.
type recordingIO struct {
	BytesIO
	reads []hostarch.AddrRange
}

func (r *recordingIO) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	r.reads = append(r.reads, hostarch.AddrRange{Start: addr, End: addr + hostarch.Addr(len(dst))})
	return r.BytesIO.CopyIn(addr, dst)
}

func TestCopyStringInNegativeMaxlen(t *testing.T) {
	if got, err := CopyStringIn(newBytesIOString("abc\x00"), 0, -1); got != "" || !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("CopyStringIn(maxlen=-1) = %q, %v, want \"\", EINVAL", got, err)
	}
}

func TestCopyStringInStopsAtTerminator(t *testing.T) {
	r := &recordingIO{BytesIO: BytesIO{[]byte("hi\x00world")}}
	got, err := CopyStringIn(r, 0, 10)
	if got != "hi" || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, "hi")
	}
	// A single chunk read is all it takes; "world" is never returned.
	if len(r.reads) != 1 {
		t.Errorf("CopyStringIn made %d reads, want 1: %v", len(r.reads), r.reads)
	}
}

func TestCopyStringInPageBounded(t *testing.T) {
	// The string starts 10 bytes before a page boundary and the next page
	// is unreadable. No read may cross into it.
	mem := make([]byte, hostarch.PageSize)
	copy(mem[hostarch.PageSize-10:], "abcdefgh\x00")
	r := &recordingIO{BytesIO: BytesIO{mem}}

	got, err := CopyStringIn(r, hostarch.PageSize-10, 100)
	if got != "abcdefgh" || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, "abcdefgh")
	}
	want := []hostarch.AddrRange{{Start: hostarch.PageSize - 10, End: hostarch.PageSize}}
	if diff := cmp.Diff(want, r.reads); diff != "" {
		t.Errorf("reads mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyStringInAcrossPages(t *testing.T) {
	mem := make([]byte, 2*hostarch.PageSize)
	want := strings.Repeat("x", 40)
	copy(mem[hostarch.PageSize-20:], want+"\x00")
	r := &recordingIO{BytesIO: BytesIO{mem}}

	got, err := CopyStringIn(r, hostarch.PageSize-20, 100)
	if got != want || err != nil {
		t.Errorf("CopyStringIn: got (%q, %v), wanted (%q, nil)", got, err, want)
	}
	for _, rng := range r.reads {
		if rng.Start.RoundDown() != (rng.End - 1).RoundDown() {
			t.Errorf("read %v crosses a page boundary", rng)
		}
	}
}
