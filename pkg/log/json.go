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
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// jsonLog is a single line written by JSONEmitter. K8sJSONEmitter writes
// the same record with the message under "log" instead of "msg".
type jsonLog struct {
	Msg   string    `json:"msg,omitempty"`
	Log   string    `json:"log,omitempty"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`
}

var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %v", int(l))
	}
	return strconv.AppendQuote(nil, levelNames[l]), nil
}

// UnmarshalJSON implements json.Unmarshaler. Both the level name and its
// integer value are accepted.
func (l *Level) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		for i, name := range levelNames {
			if name == v {
				*l = Level(i)
				return nil
			}
		}
	case float64:
		if i := int(v); float64(i) == v && i >= 0 && i < len(levelNames) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %s", b)
}

// emitJSON writes one record; depth counts frames above the emitter's Emit.
func emitJSON(w *Writer, k8s bool, depth int, level Level, ts time.Time, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if _, file, line, ok := runtime.Caller(depth + 2); ok {
		msg = fmt.Sprintf("%s:%d] %s", filepath.Base(file), line, msg)
	}
	rec := jsonLog{Level: level, Time: ts}
	if k8s {
		rec.Log = msg
	} else {
		rec.Msg = msg
	}
	b, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	w.Write(b)
}

// JSONEmitter writes one JSON object per line.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	emitJSON(e.Writer, false, depth, level, timestamp, format, v...)
}

// K8sJSONEmitter writes JSON in the shape Kubernetes log collectors expect.
type K8sJSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e K8sJSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	emitJSON(e.Writer, true, depth, level, timestamp, format, v...)
}
