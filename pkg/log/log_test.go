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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(expected, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: tw}}}
	l.Infof("frames free: %d", 42)

	if len(tw.lines) == 0 {
		t.Fatalf("nothing emitted")
	}
	line := strings.Join(tw.lines, "")
	if !strings.HasPrefix(line, "I") {
		t.Errorf("line %q does not start with the info marker", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("line %q does not name the calling file", line)
	}
	if !strings.HasSuffix(line, "] frames free: 42\n") {
		t.Errorf("line %q does not end with the message", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden")
	l.Infof("shown")
	l.SetLevel(Warning)
	l.Infof("hidden")
	l.Warningf("shown")

	var got []string
	for _, line := range tw.lines {
		if line != "\n" {
			got = append(got, line)
		}
	}
	if diff := cmp.Diff([]string{"shown", "shown"}, got); diff != "" {
		t.Errorf("emitted lines mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Emit(0, Warning, ts, "out of %s", "memory")

	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", tw.lines[0], err)
	}
	if got.Level != Warning || !got.Time.Equal(ts) {
		t.Errorf("got level %v time %v, want %v %v", got.Level, got.Time, Warning, ts)
	}
	if !strings.HasSuffix(got.Msg, "out of memory") {
		t.Errorf("got msg %q, want suffix %q", got.Msg, "out of memory")
	}
}

type countingLogger struct {
	msgs []string
}

func (c *countingLogger) Debugf(format string, v ...any)   { c.msgs = append(c.msgs, fmt.Sprintf(format, v...)) }
func (c *countingLogger) Infof(format string, v ...any)    { c.msgs = append(c.msgs, fmt.Sprintf(format, v...)) }
func (c *countingLogger) Warningf(format string, v ...any) { c.msgs = append(c.msgs, fmt.Sprintf(format, v...)) }
func (c *countingLogger) IsLogging(Level) bool             { return true }

func TestRateLimitedLogger(t *testing.T) {
	c := &countingLogger{}
	l := RateLimitedLogger(c, time.Hour)
	for i := 0; i < 5; i++ {
		l.Warningf("oom %d", i)
	}
	if diff := cmp.Diff([]string{"oom 0"}, c.msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if got := l.(*rateLimitedLogger).dropped.Load(); got != 4 {
		t.Errorf("dropped = %d, want 4", got)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	opts := PatternOpts{Command: "vmprint", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}

	f, err := OpenFile(filepath.Join(dir, "sub")+"/", os.O_CREATE|os.O_WRONLY, opts)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	want := filepath.Join(dir, "sub", "vmctl.log.20240102-030405.000000.vmprint")
	if f.Name() != want {
		t.Errorf("OpenFile name = %q, want %q", f.Name(), want)
	}

	if f, err := OpenFile("", os.O_CREATE, opts); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v, want nil, nil", f, err)
	}
}
