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
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"sv39.dev/sv39/pkg/errors/linuxerr"
	"sv39.dev/sv39/pkg/hostarch"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/sentry/kernel"
	"sv39.dev/sv39/vmctl/config"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	opts stressOpts
}

// stressOpts configures a stress run.
type stressOpts struct {
	// Workers is the number of concurrent workers.
	Workers int

	// Iterations is the number of process lifetimes each worker runs.
	Iterations int

	// MaxPages bounds the size of each address space.
	MaxPages int

	// Seed seeds every worker's random source.
	Seed uint64
}

// stressStats counts what a stress run did.
type stressStats struct {
	Processes atomic.Uint64
	Forks     atomic.Uint64
	Resizes   atomic.Uint64
	OOM       atomic.Uint64
	Full      atomic.Uint64
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent process lifetimes and check for leaks"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run concurrent process lifetimes and check for leaks.

Each worker repeatedly creates a process, resizes it at random, writes and
reads back its memory, forks it, and releases everything. Running out of
memory or process slots is expected; leaking a frame is not.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.opts.Workers, "workers", 4, "number of concurrent workers.")
	f.IntVar(&s.opts.Iterations, "iterations", 100, "process lifetimes per worker.")
	f.IntVar(&s.opts.MaxPages, "max-pages", 64, "maximum address space size in pages.")
	f.Uint64Var(&s.opts.Seed, "seed", 1, "random seed.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.opts.Workers < 1 || s.opts.MaxPages < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := bootKernel(conf)
	if err != nil {
		return Errorf("booting kernel: %v", err)
	}
	stats, err := runStress(ctx, k, s.opts)
	if err != nil {
		return Errorf("stress: %v", err)
	}
	fmt.Fprintf(os.Stdout, "processes %d, forks %d, resizes %d, out of memory %d, table full %d\n",
		stats.Processes.Load(), stats.Forks.Load(), stats.Resizes.Load(), stats.OOM.Load(), stats.Full.Load())
	return subcommands.ExitSuccess
}

// runStress runs opts.Workers workers against k and checks that every frame
// and process slot is returned at the end.
func runStress(ctx context.Context, k *kernel.Kernel, opts stressOpts) (*stressStats, error) {
	free := k.Allocator().FreeFrames()
	stats := &stressStats{}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(w)))
		g.Go(func() error {
			for i := 0; i < opts.Iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := stressLifetime(k, rng, opts.MaxPages, stats); err != nil {
					return fmt.Errorf("worker %d, iteration %d: %w", w, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if got := k.Allocator().FreeFrames(); got != free {
		return stats, fmt.Errorf("leaked %d frames", free-got)
	}
	if n := k.NumProcs(); n != 0 {
		return stats, fmt.Errorf("%d processes left behind", n)
	}
	return stats, nil
}

// expected reports whether err is a resource shortage a worker should
// tolerate, counting it.
func expected(err error, stats *stressStats) bool {
	switch {
	case linuxerr.Equals(linuxerr.ENOMEM, err):
		stats.OOM.Add(1)
		return true
	case linuxerr.Equals(linuxerr.EAGAIN, err):
		stats.Full.Add(1)
		return true
	}
	return false
}

// slotRetries is how many times a worker retries when the process table
// is full.
const slotRetries = 3

// newProcessWithRetry creates an init process, backing off while the
// process table is full.
func newProcessWithRetry(k *kernel.Kernel) (*kernel.Process, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 10 * time.Millisecond
	b.Reset()

	var (
		p      *kernel.Process
		result error
	)
	if err := backoff.Retry(func() error {
		var err error
		p, err = newInitProcess(k)
		if linuxerr.Equals(linuxerr.EAGAIN, err) {
			return err
		}
		result = err
		return nil
	}, backoff.WithMaxRetries(b, slotRetries)); err != nil {
		return nil, err
	}
	return p, result
}

// stressLifetime runs one process from creation to release.
func stressLifetime(k *kernel.Kernel, rng *rand.Rand, maxPages int, stats *stressStats) error {
	p, err := newProcessWithRetry(k)
	if err != nil {
		if expected(err, stats) {
			return nil
		}
		return err
	}
	defer p.Release()
	stats.Processes.Add(1)

	for r := rng.IntN(4) + 1; r > 0; r-- {
		limit := int64(maxPages) * hostarch.PageSize
		delta := rng.Int64N(limit) - int64(p.Size())
		if err := p.Grow(delta); err != nil {
			if expected(err, stats) {
				continue
			}
			return fmt.Errorf("resize %#x by %d: %w", p.Size(), delta, err)
		}
		stats.Resizes.Add(1)
	}

	want := make([]byte, p.Size())
	for i := range want {
		want[i] = byte(rng.Uint32())
	}
	if _, err := p.CopyOut(0, want); err != nil {
		return fmt.Errorf("writing %#x bytes: %w", len(want), err)
	}
	got := make([]byte, len(want))
	if _, err := p.CopyIn(0, got); err != nil {
		return fmt.Errorf("reading %#x bytes: %w", len(got), err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("process %d read back different bytes", p.PID())
	}

	if rng.IntN(2) == 0 {
		return nil
	}
	child, err := p.Fork()
	if err != nil {
		if expected(err, stats) {
			return nil
		}
		return fmt.Errorf("fork: %w", err)
	}
	defer child.Release()
	stats.Forks.Add(1)
	if _, err := child.CopyIn(0, got); err != nil {
		return fmt.Errorf("reading child: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("child %d differs from parent %d", child.PID(), p.PID())
	}
	log.Debugf("Process %d forked %d with %#x bytes", p.PID(), child.PID(), len(want))
	return nil
}
