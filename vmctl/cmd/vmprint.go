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
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/ring0/pagetables"
	"sv39.dev/sv39/vmctl/config"
)

// VMPrint implements subcommands.Command for the "vmprint" command.
type VMPrint struct {
	table string
	grow  int64
	fork  bool
}

// Name implements subcommands.Command.Name.
func (*VMPrint) Name() string {
	return "vmprint"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*VMPrint) Synopsis() string {
	return "print the page table tree of the first process"
}

// Usage implements subcommands.Command.Usage.
func (*VMPrint) Usage() string {
	return `vmprint [flags] - print a page table tree.

Boots the kernel, loads the init image into the first process and prints
one of its tables. Every valid entry is printed with its index, raw value
and physical address; leaves are not descended into.

EXAMPLE:
    $ vmctl vmprint
    $ vmctl --copy-mode=mirror vmprint -table=mirror -grow=8192
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *VMPrint) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.table, "table", "user", "table to print: user, mirror, or kernel.")
	f.Int64Var(&v.grow, "grow", 0, "bytes to grow the process by before printing.")
	f.BoolVar(&v.fork, "fork", false, "fork the process and print the child's table instead.")
}

// Execute implements subcommands.Command.Execute.
func (v *VMPrint) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := bootKernel(conf)
	if err != nil {
		return Errorf("booting kernel: %v", err)
	}
	p, err := newInitProcess(k)
	if err != nil {
		return Errorf("creating init process: %v", err)
	}
	defer p.Release()
	if err := p.Grow(v.grow); err != nil {
		return Errorf("growing by %d bytes: %v", v.grow, err)
	}
	if v.fork {
		child, err := p.Fork()
		if err != nil {
			return Errorf("fork: %v", err)
		}
		defer child.Release()
		p = child
	}

	var pt *pagetables.PageTables
	switch v.table {
	case "user":
		pt = p.PageTables()
	case "mirror":
		pt = p.Mirror()
	case "kernel":
		pt = k.PageTables()
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	log.Debugf("Printing %s table of process %d, size %#x", v.table, p.PID(), p.Size())

	if err := pt.Print(os.Stdout); err != nil {
		return Errorf("printing: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d of %d frames free\n", k.Allocator().FreeFrames(), k.Allocator().TotalFrames())
	return subcommands.ExitSuccess
}
