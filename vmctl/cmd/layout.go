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
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"sv39.dev/sv39/pkg/sentry/kernel"
	"sv39.dev/sv39/vmctl/config"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the machine layout and the fixed kernel mappings"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the machine layout and the fixed kernel mappings.

With -format=toml only the layout is printed, as a [layout] table that can
be used in a --config file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.format, "format", "yaml", "output format: yaml or toml.")
}

// mappingDoc is the printed form of a kernel.Mapping.
type mappingDoc struct {
	Name string `yaml:"name"`
	VA   string `yaml:"va"`
	PA   string `yaml:"pa"`
	Size string `yaml:"size"`
	Opts string `yaml:"opts"`
}

// layoutDoc is the printed form of the layout.
type layoutDoc struct {
	Machine     kernel.Layout `yaml:"machine"`
	Trampoline  string        `yaml:"trampoline"`
	TrapFrame   string        `yaml:"trapframe"`
	KernelStack string        `yaml:"kernel_stack"`
	Kernel      []mappingDoc  `yaml:"kernel"`
	Mirror      []mappingDoc  `yaml:"mirror"`
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	machine := conf.KernelOptions().Layout

	var err error
	switch l.format {
	case "yaml":
		err = writeLayoutYAML(os.Stdout, machine)
	case "toml":
		err = toml.NewEncoder(os.Stdout).Encode(struct {
			Layout kernel.Layout `toml:"layout"`
		}{machine})
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err != nil {
		return Errorf("writing layout: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeLayoutYAML(w io.Writer, machine kernel.Layout) error {
	docs := func(ms []kernel.Mapping) []mappingDoc {
		var out []mappingDoc
		for _, m := range ms {
			out = append(out, mappingDoc{
				Name: m.Name,
				VA:   m.VA.String(),
				PA:   fmt.Sprintf("%#x", m.PA),
				Size: fmt.Sprintf("%#x", m.Size),
				Opts: m.Opts.String(),
			})
		}
		return out
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(layoutDoc{
		Machine:     machine,
		Trampoline:  kernel.Trampoline.String(),
		TrapFrame:   kernel.TrapFrame.String(),
		KernelStack: kernel.KernelStack.String(),
		Kernel:      docs(machine.Mappings(false)),
		Mirror:      docs(machine.Mappings(true)),
	}); err != nil {
		return err
	}
	return enc.Close()
}
