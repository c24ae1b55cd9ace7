// Copyright 2019 The gVisor Authors.
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

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter

	// dropped counts messages suppressed since the last emitted one.
	dropped atomic.Uint64
}

// allow reports whether a message may be emitted now, and how many messages
// were suppressed before it.
func (rl *rateLimitedLogger) allow() (uint64, bool) {
	if !rl.limit.Allow() {
		rl.dropped.Add(1)
		return 0, false
	}
	return rl.dropped.Swap(0), true
}

func suffixed(format string, dropped uint64) (string, []any) {
	if dropped == 0 {
		return format, nil
	}
	return format + " (%d similar messages suppressed)", []any{dropped}
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if dropped, ok := rl.allow(); ok {
		format, extra := suffixed(format, dropped)
		rl.logger.Debugf(format, append(v, extra...)...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if dropped, ok := rl.allow(); ok {
		format, extra := suffixed(format, dropped)
		rl.logger.Infof(format, append(v, extra...)...)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if dropped, ok := rl.allow(); ok {
		format, extra := suffixed(format, dropped)
		rl.logger.Warningf(format, append(v, extra...)...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(globalLogger{}, every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// globalLogger forwards to whatever logger is current at call time, so a
// rate-limited logger created at init still follows SetTarget.
type globalLogger struct{}

func (globalLogger) Debugf(format string, v ...any)   { Log().DebugfAtDepth(2, format, v...) }
func (globalLogger) Infof(format string, v ...any)    { Log().InfofAtDepth(2, format, v...) }
func (globalLogger) Warningf(format string, v ...any) { Log().WarningfAtDepth(2, format, v...) }
func (globalLogger) IsLogging(level Level) bool       { return Log().IsLogging(level) }
