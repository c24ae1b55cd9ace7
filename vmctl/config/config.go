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

// Package config provides basic infrastructure to set configuration settings
// for vmctl. Each setting that can be changed from the command line must have
// a corresponding field in Config, tagged with the flag name. Settings can
// also be read from a TOML file named by --config; flags given explicitly on
// the command line take precedence over the file.
package config

import (
	"fmt"

	"github.com/mohae/deepcopy"
	"sv39.dev/sv39/pkg/log"
	"sv39.dev/sv39/pkg/sentry/kernel"
)

// Config holds configuration that is not part of a single command.
type Config struct {
	// ConfigFile is the path of an optional TOML file read on top of the
	// flag defaults.
	ConfigFile string `flag:"config" toml:"-"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format for stderr.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// DebugLog is the path pattern of an additional log file. See
	// log.PatternOpts for the variables it may contain.
	DebugLog string `flag:"debug-log" toml:"debug-log"`

	// DebugLogFormat is the log format for DebugLog.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug-log-format"`

	// CopyMode selects how the kernel reaches user memory.
	CopyMode kernel.CopyMode `flag:"copy-mode" toml:"copy-mode"`

	// MemSize overrides the amount of RAM in Layout when non-zero.
	MemSize uint64 `flag:"memsize" toml:"memsize"`

	// MaxProcs bounds the number of live processes.
	MaxProcs int `flag:"max-procs" toml:"max-procs"`

	// Layout is the machine layout. It can only be changed from the config
	// file.
	Layout kernel.Layout `toml:"layout"`
}

func (c *Config) validate() error {
	for _, f := range []struct {
		name, value string
	}{
		{"log-format", c.LogFormat},
		{"debug-log-format", c.DebugLogFormat},
	} {
		switch f.value {
		case "text", "json", "json-k8s":
		default:
			return fmt.Errorf("invalid %s %q, must be 'text', 'json', or 'json-k8s'", f.name, f.value)
		}
	}
	if err := c.CopyMode.Set(string(c.CopyMode)); err != nil {
		return err
	}
	if c.MaxProcs <= 0 {
		return fmt.Errorf("max-procs must be positive, got %d", c.MaxProcs)
	}
	l := c.machineLayout()
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}
	return nil
}

// machineLayout returns Layout with the overrides applied.
func (c *Config) machineLayout() kernel.Layout {
	l := deepcopy.Copy(c.Layout).(kernel.Layout)
	if c.MemSize != 0 {
		l.MemSize = c.MemSize
	}
	return l
}

// KernelOptions returns the options for a kernel built from this config.
func (c *Config) KernelOptions() kernel.Options {
	return kernel.Options{
		Layout:   c.machineLayout(),
		CopyMode: c.CopyMode,
		MaxProcs: c.MaxProcs,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("  Debug: %t", c.Debug)
	log.Infof("  CopyMode: %s", c.CopyMode)
	log.Infof("  MaxProcs: %d", c.MaxProcs)
	l := c.machineLayout()
	log.Infof("  RAM: [%#x, %#x), image %#x", l.KernBase, l.PhysTop(), l.ImageSize)
	if c.ConfigFile != "" {
		log.Infof("  ConfigFile: %s", c.ConfigFile)
	}
}
