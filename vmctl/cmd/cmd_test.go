// Copyright 2025 The gVisor Authors.
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

package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/sentry/kernel"
)

func newKernel(t *testing.T, mode kernel.CopyMode, memSize uint64, maxProcs int) *kernel.Kernel {
	t.Helper()
	l := kernel.DefaultLayout()
	l.MemSize = memSize
	k, err := kernel.New(kernel.Options{Layout: l, CopyMode: mode, MaxProcs: maxProcs})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	k.Boot()
	return k
}

func TestStress(t *testing.T) {
	for _, tc := range []struct {
		name     string
		mode     kernel.CopyMode
		memSize  uint64
		maxProcs int
	}{
		{"walk", kernel.CopyModeWalk, 4 << 20, 0},
		{"mirror", kernel.CopyModeMirror, 4 << 20, 0},
		// Small enough that workers run out of frames and slots.
		{"starved", kernel.CopyModeMirror, 1 << 20, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := newKernel(t, tc.mode, tc.memSize, tc.maxProcs)
			stats, err := runStress(context.Background(), k, stressOpts{
				Workers:    4,
				Iterations: 20,
				MaxPages:   48,
				Seed:       7,
			})
			if err != nil {
				t.Fatalf("runStress failed: %v", err)
			}
			if stats.Processes.Load() == 0 {
				t.Errorf("no process was ever created")
			}
			t.Logf("processes %d, forks %d, resizes %d, oom %d, full %d",
				stats.Processes.Load(), stats.Forks.Load(), stats.Resizes.Load(), stats.OOM.Load(), stats.Full.Load())
		})
	}
}

func TestStressCanceled(t *testing.T) {
	k := newKernel(t, kernel.CopyModeWalk, 1<<20, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runStress(ctx, k, stressOpts{Workers: 2, Iterations: 10, MaxPages: 4}); err != context.Canceled {
		t.Errorf("runStress with a canceled context = %v, want %v", err, context.Canceled)
	}
}

func TestForkAndCompare(t *testing.T) {
	for _, mode := range []kernel.CopyMode{kernel.CopyModeWalk, kernel.CopyModeMirror} {
		t.Run(string(mode), func(t *testing.T) {
			k := newKernel(t, mode, 1<<20, 0)
			free := k.Allocator().FreeFrames()
			if err := forkAndCompare(k, 3*hostarch.PageSize+5, 3); err != nil {
				t.Fatalf("forkAndCompare failed: %v", err)
			}
			if got := k.Allocator().FreeFrames(); got != free {
				t.Errorf("FreeFrames() = %d, want %d", got, free)
			}
		})
	}
}

func TestForkAndCompareOutOfMemory(t *testing.T) {
	k := newKernel(t, kernel.CopyModeWalk, 1<<20, 0)
	free := k.Allocator().FreeFrames()
	if err := forkAndCompare(k, 200*hostarch.PageSize, 1); err == nil {
		t.Fatalf("forkAndCompare of 200 pages in 1 MB succeeded")
	}
	if got := k.Allocator().FreeFrames(); got != free {
		t.Errorf("FreeFrames() = %d after failure, want %d", got, free)
	}
}

func TestLayoutYAML(t *testing.T) {
	l := kernel.DefaultLayout()
	var buf bytes.Buffer
	if err := writeLayoutYAML(&buf, l); err != nil {
		t.Fatalf("writeLayoutYAML failed: %v", err)
	}
	var got layoutDoc
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(l, got.Machine); diff != "" {
		t.Errorf("machine mismatch (-want +got):\n%s", diff)
	}
	if got, want := got.Trampoline, "0x3ffffff000"; got != want {
		t.Errorf("trampoline = %q, want %q", got, want)
	}
	wantText := mappingDoc{Name: "text", VA: "0x80000000", PA: "0x80000000", Size: "0x8000", Opts: "r-x-"}
	if diff := cmp.Diff(wantText, got.Kernel[4]); diff != "" {
		t.Errorf("kernel text mismatch (-want +got):\n%s", diff)
	}
	if len(got.Mirror) != len(got.Kernel)-1 {
		t.Errorf("mirror has %d mappings, kernel %d", len(got.Mirror), len(got.Kernel))
	}
}
