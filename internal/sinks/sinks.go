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

// Package sinks implements the reference-counted named output sinks a
// dispatched request's event log is fanned out to.
//
// Grounded on the teacher's SBatchFileSink/VEnvFileSink (a buffered
// *os.File guarded by one sync.Mutex, opened O_WRONLY|O_APPEND|O_CREATE):
// this package generalizes those two single-purpose append sinks into the
// spec's named, reference-counted get_output/deref_output registry and adds
// the distinguished default sink that routes through a HostLogger instead of
// a file descriptor.
package sinks

import (
	"fmt"
	"os"
	"sync"
	"time"

	"dbtrace/internal/extiface"
	"dbtrace/internal/telemetry"
)

// Sink is one named output destination. Writes are serialized by mu.
type Sink struct {
	filename string
	f        *os.File // nil for the default sink
	refcount int32

	mu             sync.Mutex
	useTimePrefix  bool
	lastTimeSecond int64
	timePrefixBuf  string

	logger extiface.HostLogger // only set for the default sink
}

// IsDefault reports whether s is the distinguished default sink.
func (s *Sink) IsDefault() bool { return s.f == nil && s.logger != nil }

// Filename returns the sink's registered name ("" for the default sink).
func (s *Sink) Filename() string { return s.filename }

// Write serializes one record to the sink: an optional "mm/dd HH:MM:SS: "
// prefix (regenerated at most once per wall-clock second), the current
// indent prefix, the payload, and a trailing newline. The default sink
// instead routes one line at a time through the HostLogger, with a
// " TIME +<ms>" suffix per §6.
func (s *Sink) Write(nowSec int64, indentPrefix, payload string, elapsedMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsDefault() {
		s.logger.Printf("%s%s TIME +%dms", indentPrefix, payload, elapsedMS)
		return
	}

	var tsPrefix string
	if s.useTimePrefix {
		if nowSec != s.lastTimeSecond {
			s.timePrefixBuf = time.Unix(nowSec, 0).Format("01/02 15:04:05: ")
			s.lastTimeSecond = nowSec
		}
		tsPrefix = s.timePrefixBuf
	}
	// writev-equivalent: build the iovec pieces and issue one Write call so
	// concurrent writers never interleave mid-line.
	line := tsPrefix + indentPrefix + payload + "\n"
	_, _ = s.f.WriteString(line)
}

// incRef/decRef are only ever called with the registry's mutex held.
func (s *Sink) incRef() { s.refcount++ }
func (s *Sink) decRef() int32 {
	s.refcount--
	return s.refcount
}

// Registry is the process-wide set of sinks plus the distinguished default.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]*Sink
	def     *Sink
}

// NewRegistry returns a Registry whose default sink writes through logger.
func NewRegistry(logger extiface.HostLogger) *Registry {
	return &Registry{
		byName: make(map[string]*Sink),
		def:    &Sink{logger: logger, refcount: 1}, // never reaches zero
	}
}

// Default returns the distinguished default sink, incrementing its
// refcount (callers must Deref it like any other sink).
func (r *Registry) Default() *Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def.incRef()
	return r.def
}

// Get returns the sink for filename, opening it if this is the first
// request for that name. On open failure, the default sink is returned
// instead (with its own refcount incremented) per §4.D/§7.
func (r *Registry) Get(filename string) *Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if filename == "" {
		r.def.incRef()
		return r.def
	}
	if s, ok := r.byName[filename]; ok {
		s.incRef()
		return s
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		r.logf("sink open failed for %q: %v", filename, err)
		r.def.incRef()
		return r.def
	}
	r.logf("sink opened: %s", filename)
	telemetry.SinkOpened()
	s := &Sink{filename: filename, f: f, refcount: 1, useTimePrefix: true}
	r.byName[filename] = s
	return s
}

// Hold adds one more reference to an already-open sink (used by the
// dispatcher to keep a rule's sink alive across a single end-of-request
// fan-out even if the rule itself is auto-deleted mid-evaluation).
func (r *Registry) Hold(s *Sink) {
	if s == nil {
		return
	}
	r.mu.Lock()
	s.incRef()
	r.mu.Unlock()
}

// Deref decrements s's refcount; when it reaches zero and s is a real file
// (never the default sink), the file is closed and the sink is unlinked
// from the registry.
func (r *Registry) Deref(s *Sink) {
	if s == nil || s.IsDefault() {
		if s != nil {
			r.mu.Lock()
			s.decRef()
			r.mu.Unlock()
		}
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.decRef() <= 0 {
		_ = s.f.Close()
		delete(r.byName, s.filename)
		telemetry.SinkClosed()
	}
}

func (r *Registry) logf(format string, args ...any) {
	if r.def != nil && r.def.logger != nil {
		r.def.logger.Printf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}
