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

// Package cmd holds implementations of the vmctl commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/sentry/kernel"
	"sv39.dev/sv39/vmctl/config"
)

// ErrorLogger is where error messages are written in addition to the
// debug log.
var ErrorLogger io.Writer = os.Stderr

// Errorf logs the error to the debug log and to ErrorLogger. It returns
// subcommands.ExitFailure for convenience with subcommand.Execute()
// methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "vmctl: "+format+"\n", args...)
	}
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// bootKernel builds and boots a kernel for conf.
func bootKernel(conf *config.Config) (*kernel.Kernel, error) {
	k, err := kernel.New(conf.KernelOptions())
	if err != nil {
		return nil, err
	}
	k.Boot()
	return k, nil
}

// initCode is loaded as the image of the first process.
var initCode = []byte{
	0x17, 0x05, 0x00, 0x00, // auipc a0, 0
	0x13, 0x05, 0x45, 0x02, // addi a0, a0, 36
	0x97, 0x05, 0x00, 0x00, // auipc a1, 0
	0x93, 0x85, 0x35, 0x02, // addi a1, a1, 35
	0x93, 0x08, 0x70, 0x00, // li a7, 7
	0x73, 0x00, 0x00, 0x00, // ecall
	0x93, 0x08, 0x20, 0x00, // li a7, 2
	0x73, 0x00, 0x00, 0x00, // ecall
	0xef, 0xf0, 0x9f, 0xff, // jal ra, -8
	'/', 'i', 'n', 'i', 't', 0x00, 0x00, 0x24,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// newInitProcess creates a process holding initCode.
func newInitProcess(k *kernel.Kernel) (*kernel.Process, error) {
	p, err := k.NewProcess()
	if err != nil {
		return nil, err
	}
	if err := p.UserInit(initCode); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}
