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
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/sentry/kernel"
	"sv39.dev/sv39/vmctl/config"
)

// Fork implements subcommands.Command for the "fork" command.
type Fork struct {
	size     uint64
	children int
}

// Name implements subcommands.Command.Name.
func (*Fork) Name() string {
	return "fork"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Fork) Synopsis() string {
	return "fork a process and check that the copies match"
}

// Usage implements subcommands.Command.Usage.
func (*Fork) Usage() string {
	return `fork [flags] - fork a process and check that the copies match.

Grows the first process to the given size, fills it with a pattern, forks
it and compares every child's memory with the parent's. All processes are
then released and the frame count is checked against the count at boot.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fk *Fork) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&fk.size, "size", 2*hostarch.PageSize, "size of the parent address space in bytes.")
	f.IntVar(&fk.children, "children", 1, "number of children to fork.")
}

// Execute implements subcommands.Command.Execute.
func (fk *Fork) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || fk.children < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := bootKernel(conf)
	if err != nil {
		return Errorf("booting kernel: %v", err)
	}
	free := k.Allocator().FreeFrames()
	if err := forkAndCompare(k, fk.size, fk.children); err != nil {
		return Errorf("%v", err)
	}
	if got := k.Allocator().FreeFrames(); got != free {
		return Errorf("leaked %d frames", free-got)
	}
	fmt.Fprintf(os.Stdout, "forked %d children of %#x bytes; all %d frames returned\n", fk.children, fk.size, free)
	return subcommands.ExitSuccess
}

// forkAndCompare builds a parent of the given size, forks it n times and
// checks each child against it. Every process is released on return.
func forkAndCompare(k *kernel.Kernel, size uint64, n int) error {
	parent, err := k.NewProcess()
	if err != nil {
		return fmt.Errorf("creating parent: %w", err)
	}
	defer parent.Release()
	if _, err := kernel.Sbrk(parent, int64(size)); err != nil {
		return fmt.Errorf("growing parent to %#x: %w", size, err)
	}
	want := make([]byte, size)
	for i := range want {
		want[i] = byte(i*7 + i/hostarch.PageSize)
	}
	if _, err := parent.CopyOut(0, want); err != nil {
		return fmt.Errorf("filling parent: %w", err)
	}

	got := make([]byte, size)
	for i := 0; i < n; i++ {
		pid, err := kernel.Fork(parent)
		if err != nil {
			return fmt.Errorf("fork %d: %w", i, err)
		}
		child, _ := k.Process(pid)
		_, err = child.CopyIn(0, got)
		child.Release()
		if err != nil {
			return fmt.Errorf("reading child %d: %w", pid, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("child %d memory differs from its parent", pid)
		}
		log.Debugf("Child %d matches parent %d", pid, parent.PID())
	}
	return nil
}
