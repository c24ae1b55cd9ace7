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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// GoogleEmitter prefixes each line with a glog-style header:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
type GoogleEmitter struct {
	*Writer
}

var levelChar = [...]byte{
	Warning: 'W',
	Info:    'I',
	Debug:   'D',
}

// pid is right-aligned to seven columns, as glog does.
var pid = fmt.Appendf(nil, "%7d", os.Getpid())

// appendHeader appends the line header for a message logged depth frames
// above the caller.
func appendHeader(b []byte, depth int, level Level, ts time.Time) []byte {
	if int(level) < len(levelChar) {
		b = append(b, levelChar[level])
	} else {
		b = append(b, '?')
	}
	b = ts.AppendFormat(b, "0102 15:04:05.000000")
	b = append(b, ' ')
	b = append(b, pid...)
	b = append(b, ' ')
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		b = append(b, filepath.Base(file)...)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(line), 10)
	} else {
		b = append(b, "???:0"...)
	}
	return append(b, "] "...)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var local [256]byte
	b := appendHeader(local[:0], depth+1, level, timestamp)
	b = append(b, format...)
	b = append(b, '\n')
	g.Writer.Emit(depth+1, level, timestamp, string(b), args...)
}
