// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package sinks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type captureLogger struct{ lines []string }

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func Test_GetSameFilenameIncrementsRefcount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.log")
	r := NewRegistry(&captureLogger{})
	s1 := r.Get(path)
	s2 := r.Get(path)
	if s1 != s2 {
		t.Fatalf("expected same sink instance for repeated filename")
	}
	if s1.refcount != 2 {
		t.Fatalf("expected refcount 2, got %d", s1.refcount)
	}
}

func Test_DerefClosesAndUnlinksAtZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.log")
	r := NewRegistry(&captureLogger{})
	s := r.Get(path)
	r.Deref(s)
	if _, ok := r.byName[path]; ok {
		t.Fatalf("expected sink unlinked from registry after refcount hits zero")
	}
}

func Test_OpenFailureFallsBackToDefault(t *testing.T) {
	logger := &captureLogger{}
	r := NewRegistry(logger)
	// A directory path can never be opened O_WRONLY as a regular file.
	bad := t.TempDir()
	s := r.Get(bad)
	if !s.IsDefault() {
		t.Fatalf("expected fallback to default sink on open failure")
	}
}

func Test_DefaultSinkNeverReachesZeroRefcount(t *testing.T) {
	logger := &captureLogger{}
	r := NewRegistry(logger)
	d1 := r.Default()
	r.Deref(d1)
	if r.def.refcount < 1 {
		t.Fatalf("default sink refcount dropped below 1: %d", r.def.refcount)
	}
}

func Test_WriteToFileSinkAppendsLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.log")
	r := NewRegistry(&captureLogger{})
	s := r.Get(path)
	s.useTimePrefix = false // deterministic assertion below
	s.Write(0, "A ", "hello", 0)
	r.Deref(s)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(b), "A hello\n") {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func Test_DefaultSinkWritesThroughLogger(t *testing.T) {
	logger := &captureLogger{}
	r := NewRegistry(logger)
	d := r.Default()
	d.Write(0, "", "line", 42)
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "TIME +42ms") {
		t.Fatalf("expected logger to receive TIME suffix line, got %v", logger.lines)
	}
}
