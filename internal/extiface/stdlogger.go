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

package extiface

import (
	"log"
	"os"
	"sync"
	"time"
)

// StdLogger is a HostLogger backed by the standard library's *log.Logger.
// It is the default used when an embedding process does not supply its own.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger returns a StdLogger writing to stderr with a timestamp
// prefix, matching the register the rest of this engine's diagnostics use.
func NewStdLogger() *StdLogger {
	return &StdLogger{l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (s *StdLogger) Printf(format string, args ...any) {
	s.l.Printf(format, args...)
}

// Also implement io-free simple interning & clock defaults, since most
// embedders want something usable out of the box without wiring every
// capability by hand.

// SimpleInterner is an Interner backed by a map guarded by a mutex. Good
// enough for a demo binary; production embedders typically already have a
// string-interning facility and should pass that in instead.
type SimpleInterner struct {
	idx map[string]int
	mu  sync.Mutex
}

// NewSimpleInterner returns a ready-to-use SimpleInterner.
func NewSimpleInterner() *SimpleInterner {
	return &SimpleInterner{idx: make(map[string]int)}
}

func (s *SimpleInterner) Intern(str string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.idx[str]; ok {
		return i
	}
	i := len(s.idx)
	s.idx[str] = i
	return i
}

// SystemClock is a Clock backed by time.Now, the default used when an
// embedding process does not supply its own (e.g. a fake clock for tests).
type SystemClock struct{}

func (SystemClock) NowMS() int64  { return time.Now().UnixMilli() }
func (SystemClock) NowSec() int64 { return time.Now().Unix() }
